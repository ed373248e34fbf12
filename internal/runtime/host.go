package runtime

import (
	"fmt"
	"io"
	"log"

	"chatd/internal/wire"
)

// Host runs the serve loop: one request at a time off the reader, one or
// more responses onto the writer. Malformed input, unknown commands, and
// engine faults are answered with error records and the loop keeps serving;
// it returns only on shutdown, EOF, or a broken output pipe.
type Host struct {
	eng Engine
	dec *wire.Decoder
	enc *wire.Encoder
}

// NewHost wires eng to a request reader and a response writer, normally the
// process's stdin and stdout.
func NewHost(eng Engine, r io.Reader, w io.Writer) *Host {
	return &Host{eng: eng, dec: wire.NewDecoder(r), enc: wire.NewEncoder(w)}
}

// Serve processes requests until shutdown or EOF.
func (h *Host) Serve() error {
	defer h.eng.Close()
	for {
		var req wire.Request
		err := h.dec.Decode(&req)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if wire.IsProtocol(err) {
				if werr := h.reply(wire.ErrorResponse("parse", "invalid request line", err.Error())); werr != nil {
					return werr
				}
				continue
			}
			return err
		}
		done, err := h.dispatch(req)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (h *Host) reply(resp wire.Response) error {
	return h.enc.Encode(resp)
}

func (h *Host) replyErr(where string, err error) error {
	detail := ""
	if IsDependencyUnavailable(err) {
		detail = wire.DetailDependencyUnavailable
	}
	return h.reply(wire.ErrorResponse(where, err.Error(), detail))
}

// dispatch handles one request. A panic inside a handler is converted into
// an error response so the process keeps serving.
func (h *Host) dispatch(req wire.Request) (shutdown bool, werr error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("runtime event=panic cmd=%s err=%v", req.Cmd, r)
			werr = h.reply(wire.ErrorResponse(req.Cmd, "internal fault during handling", fmt.Sprint(r)))
		}
	}()

	switch req.Cmd {
	case wire.CmdLoad:
		if err := h.eng.Load(req.ModelPath, req.NCtx, req.NGPULayers); err != nil {
			return false, h.replyErr("load", err)
		}
		return false, h.reply(wire.Response{Type: wire.TypeLoaded, OK: true})

	case wire.CmdLoadEmbed:
		if err := h.eng.LoadEmbed(req.ModelPath); err != nil {
			return false, h.replyErr("load_embed", err)
		}
		return false, h.reply(wire.Response{Type: wire.TypeEmbedLoaded, OK: true})

	case wire.CmdChat:
		return false, h.handleChat(req)

	case wire.CmdTokenizeCount:
		n, err := h.eng.TokenizeCount(req.Text)
		if err != nil {
			return false, h.replyErr("tokenize_count", err)
		}
		return false, h.reply(wire.Response{Type: wire.TypeTokenizeCount, Count: n})

	case wire.CmdEmbed:
		vec, err := h.eng.Embed(embedText(req))
		if err != nil {
			return false, h.replyErr("embed", err)
		}
		return false, h.reply(wire.Response{Type: wire.TypeResult, OK: true, Embedding: vec})

	case wire.CmdShutdown:
		return true, h.reply(wire.Response{Type: wire.TypeDone, OK: true})

	default:
		return false, h.reply(wire.ErrorResponse("dispatch", "unknown command", req.Cmd))
	}
}

// embedText applies the task prefix the embedding model was trained with.
// Unknown or missing tasks fall back to document.
func embedText(req wire.Request) string {
	if req.Task == wire.TaskQuery {
		return "search_query: " + req.Text
	}
	return "search_document: " + req.Text
}

func (h *Host) handleChat(req wire.Request) error {
	if !req.Stream {
		res, err := h.eng.Generate(req.Messages, req.Params, nil)
		if err != nil {
			return h.replyErr("chat", err)
		}
		return h.reply(wire.Response{Type: wire.TypeResult, OK: true, Content: res.Content, FinishReason: res.FinishReason})
	}

	var werr error
	res, err := h.eng.Generate(req.Messages, req.Params, func(tok string) error {
		werr = h.reply(wire.Response{Type: wire.TypeDelta, Content: tok})
		return werr
	})
	if werr != nil {
		// Output pipe is gone; nothing further can be delivered.
		return werr
	}
	if err != nil {
		return h.replyErr("chat", err)
	}
	return h.reply(wire.Response{Type: wire.TypeDone, OK: true, FinishReason: res.FinishReason})
}
