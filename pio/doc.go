// Package pio has common i/o functions for line-based protocol clients.
package pio
