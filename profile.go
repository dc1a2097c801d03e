package main

import (
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// startProfiling starts CPU profiling and execution tracing if their paths are
// set. The returned function stops them, and writes a heap profile if mempath
// is set. Useful for a long-running "popbox watch".
func startProfiling(cpupath, mempath, tracepath string) func() {
	var stops []func()

	if cpupath != "" {
		f, err := os.Create(cpupath)
		xcheckf(err, "creating cpu profile")
		err = pprof.StartCPUProfile(f)
		xcheckf(err, "start cpu profile")
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			if err := f.Close(); err != nil {
				log.Printf("closing cpu profile: %v", err)
			}
		})
	}

	if tracepath != "" {
		f, err := os.Create(tracepath)
		xcheckf(err, "create trace file")
		err = trace.Start(f)
		xcheckf(err, "start trace")
		stops = append(stops, func() {
			trace.Stop()
			if err := f.Close(); err != nil {
				log.Printf("closing trace file: %v", err)
			}
		})
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
		writeMemprofile(mempath)
	}
}

func writeMemprofile(mempath string) {
	if mempath == "" {
		return
	}

	f, err := os.Create(mempath)
	xcheckf(err, "creating memory profile")
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("closing memory profile: %v", err)
		}
	}()
	runtime.GC() // get up-to-date statistics
	err = pprof.WriteHeapProfile(f)
	xcheckf(err, "writing memory profile")
}
