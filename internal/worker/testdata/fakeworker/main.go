// Command fakeworker is a scriptable stand-in for the real inference worker,
// used by the supervisor tests. Behavior is keyed off request content:
//
//	load path containing "fail"   -> error reply
//	load path containing "hang"   -> no reply (exercises the load timeout)
//	load path containing "capN"   -> succeeds only for n_gpu_layers in [0, N]
//	chat text containing "inferr" -> one delta, then an error reply
//	chat text containing "crash"  -> one delta, then exit(3)
//	chat text containing "garbage"-> a non-JSON line mid-stream
//	chat text containing "slow"   -> many deltas with a pause between each
//
// Everything else echoes: streamed chat emits one delta per word of the last
// message, tokenize_count returns len(text), embed returns a small vector
// encoding len(text) and the task.
package main

import (
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chatd/internal/wire"
)

var capRe = regexp.MustCompile(`cap(\d+)`)

func main() {
	dec := wire.NewDecoder(os.Stdin)
	enc := wire.NewEncoder(os.Stdout)

	for {
		var req wire.Request
		if err := dec.Decode(&req); err != nil {
			if err == io.EOF {
				os.Exit(0)
			}
			_ = enc.Encode(wire.ErrorResponse("parse", "invalid request line", err.Error()))
			continue
		}
		switch req.Cmd {
		case wire.CmdLoad:
			handleLoad(enc, req)
		case wire.CmdLoadEmbed:
			if strings.Contains(req.ModelPath, "fail") {
				_ = enc.Encode(wire.ErrorResponse("load_embed", "scripted failure", req.ModelPath))
				continue
			}
			_ = enc.Encode(wire.Response{Type: wire.TypeEmbedLoaded, OK: true})
		case wire.CmdChat:
			handleChat(enc, req)
		case wire.CmdTokenizeCount:
			_ = enc.Encode(wire.Response{Type: wire.TypeTokenizeCount, Count: len(req.Text)})
		case wire.CmdEmbed:
			task := float32(1)
			if req.Task == wire.TaskQuery {
				task = 2
			}
			_ = enc.Encode(wire.Response{Type: wire.TypeResult, OK: true, Embedding: []float32{float32(len(req.Text)), task}})
		case wire.CmdShutdown:
			_ = enc.Encode(wire.Response{Type: wire.TypeDone, OK: true})
			os.Exit(0)
		default:
			_ = enc.Encode(wire.ErrorResponse("dispatch", "unknown command", req.Cmd))
		}
	}
}

func handleLoad(enc *wire.Encoder, req wire.Request) {
	path := req.ModelPath
	switch {
	case strings.Contains(path, "hang"):
		time.Sleep(30 * time.Second)
	case strings.Contains(path, "fail"):
		_ = enc.Encode(wire.ErrorResponse("load", "scripted failure", path))
	default:
		if m := capRe.FindStringSubmatch(path); m != nil {
			max, _ := strconv.Atoi(m[1])
			if req.NGPULayers < 0 || req.NGPULayers > max {
				_ = enc.Encode(wire.ErrorResponse("load", "out of memory", "n_gpu_layers too high"))
				return
			}
		}
		_ = enc.Encode(wire.Response{Type: wire.TypeLoaded, OK: true})
	}
}

func handleChat(enc *wire.Encoder, req wire.Request) {
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	if !req.Stream {
		_ = enc.Encode(wire.Response{Type: wire.TypeResult, OK: true, Content: "echo: " + last, FinishReason: "stop"})
		return
	}

	switch {
	case strings.Contains(last, "inferr"):
		_ = enc.Encode(wire.Response{Type: wire.TypeDelta, Content: "partial "})
		_ = enc.Encode(wire.ErrorResponse("chat", "scripted inference failure", ""))
		return
	case strings.Contains(last, "crash"):
		_ = enc.Encode(wire.Response{Type: wire.TypeDelta, Content: "boom"})
		os.Stderr.WriteString("fatal: crash requested\n")
		os.Exit(3)
	case strings.Contains(last, "garbage"):
		_ = enc.Encode(wire.Response{Type: wire.TypeDelta, Content: "pre "})
		os.Stdout.WriteString("!!not json!!\n")
		_ = enc.Encode(wire.Response{Type: wire.TypeDone, OK: true, FinishReason: "stop"})
		return
	}

	words := strings.Fields(last)
	slow := strings.Contains(last, "slow")
	reps := 1
	if slow {
		reps = 10
	}
	for i := 0; i < reps; i++ {
		for _, w := range words {
			_ = enc.Encode(wire.Response{Type: wire.TypeDelta, Content: w + " "})
			if slow {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
	_ = enc.Encode(wire.Response{Type: wire.TypeDone, OK: true, FinishReason: "stop"})
}
