// Command chatd-worker hosts one inference engine and speaks the NDJSON
// request/response protocol on stdin/stdout. The daemon spawns one worker
// per role (chat, embed) and restarts it when it exits; the worker itself
// holds no state worth preserving across a crash.
//
// Stdout belongs to the protocol, so all logging goes to stderr. Build with
// -tags llama for the real llama.cpp engine; the default build answers every
// command with a dependency error, which keeps the daemon testable on hosts
// without the C toolchain.
package main

import (
	"flag"
	"log"
	"os"
	"runtime"

	host "chatd/internal/runtime"
)

func main() {
	threads := flag.Int("threads", runtime.NumCPU(), "inference threads")
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("chatd-worker ")

	eng := host.NewLlamaEngine(*threads)
	if err := host.NewHost(eng, os.Stdin, os.Stdout).Serve(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
