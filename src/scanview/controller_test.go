package scanview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-scanner/src/imagefile"
	"doc-scanner/src/ocr"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type callOutcome struct {
	text string
	err  error
}

// pendingCall is one recognition call the test resolves by hand.
type pendingCall struct {
	image    *imagefile.Image
	language string
	progress ocr.ProgressFunc
	result   chan callOutcome
}

func (c *pendingCall) resolve(text string) { c.result <- callOutcome{text: text} }

func (c *pendingCall) reject(msg string) { c.result <- callOutcome{err: errors.New(msg)} }

type scriptedEngine struct {
	calls chan *pendingCall
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{calls: make(chan *pendingCall, 8)}
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Recognize(ctx context.Context, img *imagefile.Image, language string, progress ocr.ProgressFunc) (ocr.Result, error) {
	call := &pendingCall{image: img, language: language, progress: progress, result: make(chan callOutcome, 1)}
	e.calls <- call
	select {
	case o := <-call.result:
		return ocr.Result{Text: o.text, Engine: e.Name()}, o.err
	case <-ctx.Done():
		return ocr.Result{}, ctx.Err()
	}
}

func (e *scriptedEngine) nextCall(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-e.calls:
		return c
	case <-time.After(waitFor):
		t.Fatal("expected a recognition call")
		return nil
	}
}

func (e *scriptedEngine) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case <-e.calls:
		t.Fatal("unexpected recognition call")
	case <-time.After(50 * time.Millisecond):
	}
}

// stubbornEngine ignores ctx and reads the image after a delay, like an
// engine call abandoned on deadline that keeps running.
type stubbornEngine struct {
	delay time.Duration
	seen  chan int
}

func (e *stubbornEngine) Name() string { return "stubborn" }

func (e *stubbornEngine) Recognize(ctx context.Context, img *imagefile.Image, language string, progress ocr.ProgressFunc) (ocr.Result, error) {
	time.Sleep(e.delay)
	e.seen <- len(img.Data)
	return ocr.Result{Text: "late"}, nil
}

type fakeClipboard struct {
	writes []string
	err    error
}

func (f *fakeClipboard) Write(text string) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, text)
	return nil
}

func startController(t *testing.T, engine ocr.Engine, opts Options) *Controller {
	t.Helper()
	c := New(engine, opts)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-errCh, context.Canceled)
	})
	return c
}

func eventually(t *testing.T, c *Controller, cond func(State) bool, msg string) State {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Snapshot()) }, waitFor, tick, msg)
	return c.Snapshot()
}

func inPhase(p Phase) func(State) bool {
	return func(s State) bool { return s.Phase() == p }
}

func withProgress(msg string) func(State) bool {
	return func(s State) bool { return s.Progress == msg }
}

func TestEndToEndSuccess(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{})

	c.SelectImage(docImage("doc.png"))
	eventually(t, c, inPhase(PhaseReady), "image selected")

	c.Extract()
	call := engine.nextCall(t)
	assert.Equal(t, "doc.png", call.image.Name)
	assert.Equal(t, "eng", call.language)

	s := eventually(t, c, inPhase(PhaseScanning), "scanning")
	assert.Equal(t, MsgInitializing, s.Progress)
	assert.False(t, s.CanExtract())

	for _, step := range []struct {
		p    float64
		want string
	}{{0.10, "Progress: 10%"}, {0.55, "Progress: 55%"}, {0.90, "Progress: 90%"}} {
		call.progress(recognizing(step.p))
		eventually(t, c, withProgress(step.want), step.want)
	}

	call.resolve("Hello World")
	s = eventually(t, c, inPhase(PhaseDone), "done")
	assert.Equal(t, "Hello World", s.DisplayText())
	assert.Equal(t, MsgDone, s.Progress)
	assert.True(t, s.CanExtract(), "extract re-enabled")
}

func TestEndToEndFailure(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{})

	c.SelectImage(docImage("doc.png"))
	c.Extract()
	engine.nextCall(t).reject("network failure")

	s := eventually(t, c, inPhase(PhaseFailed), "failed")
	assert.Equal(t, "Error: network failure", s.DisplayText())
	assert.True(t, s.CanExtract(), "extract re-enabled")
}

func TestExtractIgnoredWithoutImage(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{})

	c.Extract()
	engine.assertNoCall(t)
	assert.Equal(t, PhaseIdle, c.Snapshot().Phase())
}

func TestSingleCallInFlight(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{})

	c.SelectImage(docImage("doc.png"))
	c.Extract()
	c.Extract()
	c.Extract()

	call := engine.nextCall(t)
	engine.assertNoCall(t)

	call.resolve("only once")
	eventually(t, c, inPhase(PhaseDone), "done")

	c.Extract()
	engine.nextCall(t).resolve("again")
	eventually(t, c, func(s State) bool { return s.DisplayText() == "again" }, "re-extract")
}

func TestSelectingNewImageDuringScan(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{})

	c.SelectImage(docImage("first.png"))
	c.Extract()
	call := engine.nextCall(t)
	call.progress(recognizing(0.4))
	eventually(t, c, withProgress("Progress: 40%"), "progress shown")

	c.SelectImage(docImage("second.png"))
	s := eventually(t, c, func(s State) bool { return !s.Scanning }, "stale call settles after cancellation")

	assert.Equal(t, "second.png", s.Image.Name)
	assert.Equal(t, PhaseReady, s.Phase())
	assert.Empty(t, s.DisplayText())
	assert.Empty(t, s.Progress)
	assert.True(t, s.CanExtract())

	c.Extract()
	next := engine.nextCall(t)
	assert.Equal(t, "second.png", next.image.Name)
	next.resolve("second text")
	eventually(t, c, func(s State) bool { return s.DisplayText() == "second text" }, "second result")
}

func TestDeadline(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{Deadline: 20 * time.Millisecond})

	c.SelectImage(docImage("doc.png"))
	c.Extract()
	engine.nextCall(t)

	s := eventually(t, c, inPhase(PhaseFailed), "timed out")
	assert.Equal(t, "Error: recognition timed out after 20ms", s.DisplayText())
}

func TestAbandonedCallKeepsImageData(t *testing.T) {
	engine := &stubbornEngine{delay: 100 * time.Millisecond, seen: make(chan int, 1)}
	c := startController(t, engine, Options{Deadline: 10 * time.Millisecond})

	first := imagefile.FromBytes("first.png", make([]byte, 16))
	c.SelectImage(first)
	c.Extract()
	eventually(t, c, inPhase(PhaseFailed), "timed out")

	c.SelectImage(docImage("second.png"))
	eventually(t, c, func(s State) bool { return s.Image.Name == "second.png" }, "second selected")

	select {
	case n := <-engine.seen:
		assert.Equal(t, 16, n, "abandoned call still sees the first image")
	case <-time.After(waitFor):
		t.Fatal("engine never finished")
	}
}

func TestUnscannedImageIsReleasedOnReplace(t *testing.T) {
	c := startController(t, newScriptedEngine(), Options{})

	first := docImage("first.png")
	c.SelectImage(first)
	c.SelectImage(docImage("second.png"))
	eventually(t, c, func(s State) bool { return s.Image != nil && s.Image.Name == "second.png" }, "second selected")

	assert.Nil(t, first.Data)
}

func TestLanguageOption(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{Language: "eng+fra"})

	c.SelectImage(docImage("doc.png"))
	c.Extract()
	assert.Equal(t, "eng+fra", engine.nextCall(t).language)
}

func TestCopyPlacesDisplayedText(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{})
	clip := &fakeClipboard{}

	assert.ErrorIs(t, c.Copy(clip), ErrNothingToCopy)

	c.SelectImage(docImage("doc.png"))
	c.Extract()
	engine.nextCall(t).resolve("  Hello\nWorld  ")
	eventually(t, c, inPhase(PhaseDone), "done")

	require.NoError(t, c.Copy(clip))

	c.Extract()
	engine.nextCall(t).reject("network failure")
	eventually(t, c, inPhase(PhaseFailed), "failed")

	require.NoError(t, c.Copy(clip))
	assert.Equal(t, []string{"  Hello\nWorld  ", "Error: network failure"}, clip.writes)
}

func TestCopyReportsClipboardErrors(t *testing.T) {
	engine := newScriptedEngine()
	c := startController(t, engine, Options{})

	c.SelectImage(docImage("doc.png"))
	c.Extract()
	engine.nextCall(t).resolve("text")
	eventually(t, c, inPhase(PhaseDone), "done")

	cause := errors.New("no display")
	assert.ErrorIs(t, c.Copy(&fakeClipboard{err: cause}), cause)
}

func TestObserversSeeEveryTransition(t *testing.T) {
	engine := newScriptedEngine()
	c := New(engine, Options{})

	phases := make(chan Phase, 16)
	c.Subscribe(func(s State) { phases <- s.Phase() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	c.SelectImage(docImage("doc.png"))
	c.Extract()
	engine.nextCall(t).resolve("Hello")

	var got []Phase
	for len(got) < 3 {
		select {
		case p := <-phases:
			got = append(got, p)
		case <-time.After(waitFor):
			t.Fatalf("observed only %v", got)
		}
	}
	assert.Equal(t, []Phase{PhaseReady, PhaseScanning, PhaseDone}, got)
}
