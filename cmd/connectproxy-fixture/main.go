// Command connectproxy-fixture starts a standalone CONNECT proxy, printing
// its listen address to stdout. It exists for manual testing and for use
// as an out-of-process fixture from other languages' test suites, the way
// the original C++ fixture is normally driven in-process from a test
// binary rather than run standalone.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterzhu2118/connectproxy"
)

func main() {
	credential := flag.String("basic-auth", "", "if set, require Proxy-Authorization: Basic <base64 of this value>")
	flag.Parse()

	cfg := connectproxy.ProxyConfig{}
	if *credential != "" {
		cfg.ExpectedBasicAuthCredential = credential
	}

	p, err := connectproxy.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connectproxy-fixture:", err)
		os.Exit(1)
	}
	fmt.Println(p.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if err := p.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "connectproxy-fixture:", err)
		os.Exit(1)
	}
}
