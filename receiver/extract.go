package receiver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

var (
	// NoText occurs when the payload doesn't have a usable text
	// property.
	NoText = errors.New("no text in payload")

	// ExtractTimeout bounds the time an extract expression may
	// run.
	ExtractTimeout = 100 * time.Millisecond
)

// extractor pulls the text out of a decoded payload.
//
// A nil extractor (or one without a program) looks for a non-empty
// string at payload.text.
type extractor struct {
	src  string
	prog *goja.Program
}

func compileExtract(src string) (*extractor, error) {
	if src == "" {
		return nil, nil
	}
	prog, err := goja.Compile("extract", src, false)
	if err != nil {
		return nil, fmt.Errorf("extract %q: %w", src, err)
	}
	return &extractor{
		src:  src,
		prog: prog,
	}, nil
}

func (x *extractor) text(ctx context.Context, payload interface{}) (string, error) {
	if x == nil || x.prog == nil {
		m, is := payload.(map[string]interface{})
		if !is {
			return "", fmt.Errorf("%w: payload is %T", NoText, payload)
		}
		return nonEmpty(m["text"])
	}

	// A Runtime isn't safe for concurrent use, and ticks can
	// overlap, so each extraction gets its own.
	vm := goja.New()
	if err := vm.Set("payload", payload); err != nil {
		return "", err
	}

	timer := time.AfterFunc(ExtractTimeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	v, err := vm.RunProgram(x.prog)
	if err != nil {
		return "", fmt.Errorf("extract %q: %w", x.src, err)
	}
	if v == nil {
		return "", NoText
	}
	return nonEmpty(v.Export())
}

func nonEmpty(x interface{}) (string, error) {
	s, is := x.(string)
	if !is {
		if x == nil {
			return "", NoText
		}
		return "", fmt.Errorf("%w: text is %T", NoText, x)
	}
	if s == "" {
		return "", fmt.Errorf("%w: text is empty", NoText)
	}
	return s, nil
}
