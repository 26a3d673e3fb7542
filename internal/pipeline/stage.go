package pipeline

import (
	"sync"
)

// Runner is the per-stage worker contract the stage harness drives. Process
// receives the items the upstream stage pushed; the Stage harness calls it
// from the stage's own feeding goroutine after taking each item from the
// stage's input queue, not from the upstream worker's goroutine. Finish
// signals that no more input will arrive, and
// Wait blocks for the next finished item (ok=false once the runner drained).
type Runner[In, Out any] interface {
	Process(in In)
	Finish()
	Wait() (Out, bool)
}

// Stage couples an input side, an output side and a Runner into a pipeline
// node. Run pumps two loops: one feeding the runner from the input queue and
// one forwarding finished items downstream.
type Stage[In, Out any] struct {
	name   string
	in     *InputSide[In]
	out    OutputSide[Out]
	runner Runner[In, Out]
}

// NewStage wraps runner into a stage with a bounded input queue.
func NewStage[In, Out any](name string, queueLimit int, runner Runner[In, Out]) *Stage[In, Out] {
	return &Stage[In, Out]{
		name:   name,
		in:     NewInputSide[In](queueLimit),
		runner: runner,
	}
}

// Name returns the stage name.
func (s *Stage[In, Out]) Name() string { return s.name }

// In exposes the input side for upstream wiring.
func (s *Stage[In, Out]) In() *InputSide[In] { return s.in }

// Attach connects the stage's output to a downstream port.
func (s *Stage[In, Out]) Attach(p *Port[Out]) { s.out.Attach(p) }

// Depth returns the input queue depth, for monitoring.
func (s *Stage[In, Out]) Depth() int { return s.in.Depth() }

// Run drives the stage until end-of-stream has passed through. It returns
// after the runner drained and downstream has been closed.
func (s *Stage[In, Out]) Run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			v, ok := s.in.Take()
			if !ok {
				s.runner.Finish()
				return
			}
			s.runner.Process(v)
		}
	}()

	go func() {
		defer wg.Done()
		for {
			v, ok := s.runner.Wait()
			if !ok {
				s.out.CloseOutput()
				return
			}
			s.out.Output(v)
		}
	}()

	wg.Wait()
}

// Loader produces source items; ok=false ends the stream.
type Loader[Out any] interface {
	LoadImage() (Out, bool)
}

// SourceStage drives a Loader at the head of the pipeline.
type SourceStage[Out any] struct {
	name   string
	out    OutputSide[Out]
	loader Loader[Out]
	served uint64
}

// NewSourceStage wraps loader into a source stage.
func NewSourceStage[Out any](name string, loader Loader[Out]) *SourceStage[Out] {
	return &SourceStage[Out]{name: name, loader: loader}
}

// Name returns the stage name.
func (s *SourceStage[Out]) Name() string { return s.name }

// Attach connects the source's output to a downstream port.
func (s *SourceStage[Out]) Attach(p *Port[Out]) { s.out.Attach(p) }

// Served returns the number of items emitted.
func (s *SourceStage[Out]) Served() uint64 { return s.served }

// Run pulls from the loader until it reports end-of-stream, then closes the
// downstream queue.
func (s *SourceStage[Out]) Run() {
	for {
		v, ok := s.loader.LoadImage()
		if !ok {
			s.out.CloseOutput()
			return
		}
		s.out.Output(v)
		s.served++
	}
}

// Saver consumes sink items.
type Saver[In any] interface {
	Save(in In)
}

// SinkStage drains the pipeline tail into a Saver.
type SinkStage[In any] struct {
	name   string
	in     *InputSide[In]
	saver  Saver[In]
	served uint64
}

// NewSinkStage wraps saver into a sink stage with a bounded input queue.
func NewSinkStage[In any](name string, queueLimit int, saver Saver[In]) *SinkStage[In] {
	return &SinkStage[In]{name: name, in: NewInputSide[In](queueLimit), saver: saver}
}

// Name returns the stage name.
func (s *SinkStage[In]) Name() string { return s.name }

// In exposes the input side for upstream wiring.
func (s *SinkStage[In]) In() *InputSide[In] { return s.in }

// Served returns the number of items consumed.
func (s *SinkStage[In]) Served() uint64 { return s.served }

// Run drains the input queue into the saver until end-of-stream.
func (s *SinkStage[In]) Run() {
	for {
		v, ok := s.in.Take()
		if !ok {
			return
		}
		s.saver.Save(v)
		s.served++
	}
}

// HasInput is anything exposing an input side of type T.
type HasInput[T any] interface {
	In() *InputSide[T]
}

// HasOutput is anything whose output can be attached to a port of type T.
type HasOutput[T any] interface {
	Attach(*Port[T])
}

// Connect wires from's output side to to's input side with a fresh port.
func Connect[T any](from HasOutput[T], to HasInput[T]) {
	from.Attach(NewPort(to.In()))
}

// Runnable is a stage the pipeline can drive to completion.
type Runnable interface {
	Run()
}

// Pipeline owns the stage goroutines of one reconstruction run.
type Pipeline struct {
	wg sync.WaitGroup
}

// Run starts each stage on its own goroutine.
func (p *Pipeline) Run(stages ...Runnable) {
	for _, st := range stages {
		p.wg.Add(1)
		go func(st Runnable) {
			defer p.wg.Done()
			st.Run()
		}(st)
	}
}

// Wait blocks until every stage has observed end-of-stream and returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
