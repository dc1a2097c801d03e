package metrics

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestServe(t *testing.T) {
	srv, addr, err := Serve(nil, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer srv.Close()

	MailboxSet("metricstest", 3, 1024)
	CheckInc("metricstest", "ok")
	PanicInc(Watch)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	body := string(buf)
	for _, s := range []string{
		`popbox_mailbox_messages{account="metricstest"} 3`,
		`popbox_mailbox_bytes{account="metricstest"} 1024`,
		`popbox_check_total{account="metricstest",result="ok"} 1`,
		`popbox_panic_total{pkg="watch"} 1`,
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("metrics does not contain %q:\n%s", s, body)
		}
	}
}
