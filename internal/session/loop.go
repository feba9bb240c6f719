package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mx37/grapheneos-ai/internal/llm"
	"github.com/mx37/grapheneos-ai/internal/textstream"
)

// Phase is the state of the generation loop.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseTokenizing
	PhasePriming
	PhaseSampling
	PhaseDecoding
	PhaseFlushing
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTokenizing:
		return "tokenizing"
	case PhasePriming:
		return "priming"
	case PhaseSampling:
		return "sampling"
	case PhaseDecoding:
		return "decoding"
	case PhaseFlushing:
		return "flushing"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// FinishReason says why a generation ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"      // end-of-sequence token
	FinishLength    FinishReason = "length"    // token budget exhausted
	FinishMarker    FinishReason = "marker"    // stop marker produced
	FinishCancelled FinishReason = "cancelled" // RequestStop, Unload or ctx
	FinishError     FinishReason = "error"
)

// Sink receives streamed text. It runs on the generation goroutine, once per
// chunk, in generation order, and only ever sees non-empty valid UTF-8 that
// contains no part of a stop marker.
type Sink func(chunk string)

// Request is one generation.
type Request struct {
	Prompt      string
	MaxTokens   int // 0 selects DefaultMaxTokens
	Temperature float32
	TopP        float32
	Seed        uint32
	// StopMarkers overrides the session markers when non-nil.
	StopMarkers []string
	Sink        Sink
}

// Result is the outcome of a generation.
type Result struct {
	Text             string
	Finish           FinishReason
	PromptTokens     int
	CompletionTokens int
	Chunks           int
	TTFT             time.Duration
	Duration         time.Duration
}

func (s *Session) run(ctx context.Context, model llm.Model, lctx llm.Context, req Request) (Result, error) {
	start := time.Now()
	var res Result

	markers := s.markers
	if req.StopMarkers != nil {
		markers = req.StopMarkers
	}
	matcher := textstream.NewStopMatcher(markers...)
	var re textstream.Reassembler

	s.setPhase(PhaseTokenizing)
	tokens, err := model.Tokenize(req.Prompt, true, true)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrTokenization, err)
	}
	n := lctx.Size()
	if len(tokens) > n {
		return res, fmt.Errorf("%w: prompt is %d tokens, context holds %d", ErrTokenization, len(tokens), n)
	}
	res.PromptTokens = len(tokens)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxTokens = min(maxTokens, n-len(tokens))

	lctx.ClearMemory()
	s.setPhase(PhasePriming)
	if len(tokens) > 0 {
		if err := lctx.Decode(tokens); err != nil {
			return res, fmt.Errorf("%w: %w", ErrEvaluation, err)
		}
	}
	sampler, err := lctx.NewSampler(llm.SamplerParams{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Seed:        req.Seed,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrSample, err)
	}
	defer sampler.Close()

	s.log.Debug().
		Int("prompt_tokens", len(tokens)).
		Int("max_tokens", maxTokens).
		Strs("markers", matcher.Markers()).
		Msg("generate start")

	emit := func(chunk string) {
		if chunk == "" {
			return
		}
		if res.Chunks == 0 {
			res.TTFT = time.Since(start)
		}
		res.Chunks++
		if req.Sink != nil {
			req.Sink(chunk)
		}
	}

	// text is everything generated so far. pending is its tail that has not
	// been handed to the reassembler because it could still grow into a stop
	// marker; streamed counts the bytes that have been, so
	// text[:streamed]+pending == text.
	var text strings.Builder
	var pending string
	streamed := 0
	var genErr error

	s.setPhase(PhaseSampling)
loop:
	for i := 0; i < maxTokens; i++ {
		tok, err := sampler.Sample()
		if err != nil {
			if errors.Is(err, llm.ErrPromptEval) {
				genErr = fmt.Errorf("%w: %w", ErrEvaluation, err)
			} else {
				genErr = fmt.Errorf("%w: %w", ErrSample, err)
			}
			break
		}
		if model.IsEndOfSequence(tok) {
			res.Finish = FinishStop
			break
		}
		piece := string(model.TokenToPiece(tok))
		res.CompletionTokens++

		if mk, hit := matcher.Observe(piece); hit {
			// A marker always starts inside the held-back tail, so only that
			// tail is cut; released text stays part of the result.
			rest := matcher.Cut(pending + piece)
			emit(re.PushString(rest))
			final := text.String()[:streamed] + rest
			streamed = len(final)
			text.Reset()
			text.WriteString(final)
			pending = ""
			res.Finish = FinishMarker
			s.log.Debug().Str("marker", mk).Msg("stop marker")
			break
		}

		text.WriteString(piece)
		pending += piece
		hold := matcher.PartialSuffix(pending)
		if release := pending[:len(pending)-hold]; release != "" {
			pending = pending[len(pending)-hold:]
			streamed += len(release)
			emit(re.PushString(release))
		}
		sampler.Accept(tok)

		if s.stopRequested.Load() {
			res.Finish = FinishCancelled
			break
		}
		select {
		case <-ctx.Done():
			res.Finish = FinishCancelled
			break loop
		default:
		}

		s.setPhase(PhaseDecoding)
		if err := lctx.Decode([]llm.Token{tok}); err != nil {
			genErr = fmt.Errorf("%w: %w", ErrDecode, err)
			break
		}
		s.setPhase(PhaseSampling)
	}

	s.setPhase(PhaseFlushing)
	// A held-back marker prefix that never completed is dropped, not sent.
	// The result is the released text plus whatever survives of the tail, so
	// every streamed chunk is part of it.
	rest := matcher.Cut(pending)
	emit(re.PushString(rest))
	emit(re.Flush())
	res.Text = textstream.Sanitize(text.String()[:streamed] + rest)
	res.Duration = time.Since(start)
	switch {
	case genErr != nil:
		res.Finish = FinishError
	case res.Finish == "":
		res.Finish = FinishLength
	}
	s.setPhase(PhaseDone)

	ev := s.log.Debug()
	if genErr != nil {
		ev = s.log.Warn().Err(genErr)
	}
	ev.Str("finish", string(res.Finish)).
		Int("completion_tokens", res.CompletionTokens).
		Int("chunks", res.Chunks).
		Dur("took", res.Duration).
		Msg("generate end")

	if genErr != nil {
		return res, &GenerationError{Err: genErr, Partial: res}
	}
	return res, nil
}
