package eden

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"
)

// PollOptions controls one Poll sequence.
type PollOptions struct {
	Interval       time.Duration // defaults to DefaultPollInterval
	MultiFrame     bool          // the final artifact is a video/animation
	PreferAnimated bool          // fetch multi-frame results as .gif instead of .mp4
	MaxWait        time.Duration // zero means no bound
}

// Tick is one observed status change. File is set only when the artifact
// behind the status changed since the previous tick (a streaming preview),
// and on the final tick, where it holds the finished creation.
type Tick struct {
	Status Status
	File   *Artifact
	Final  bool
}

// Poll returns a lazy sequence of status changes for task. The sequence is
// finite: it ends after the first complete tick (Final, with the fetched
// artifact), after a failed tick (paired with *RemoteTaskFailure), or at
// the first error. Repeated identical statuses are suppressed. The next
// status query is not issued until the consumer's loop body returns, so
// consumer side effects for tick N finish before tick N+1 is requested.
// A sequence cannot be restarted; poll a new task instead.
func (c *Client) Poll(ctx context.Context, task TaskID, opts PollOptions) iter.Seq2[Tick, error] {
	return func(yield func(Tick, error) bool) {
		interval := opts.Interval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		var deadline <-chan time.Time
		if opts.MaxWait > 0 {
			timer := time.NewTimer(opts.MaxWait)
			defer timer.Stop()
			deadline = timer.C
		}
		logger := c.logger.With(zap.String("task_id", string(task)))

		var (
			last        Status
			emitted     bool
			previewRef  string
			sleepTicker = time.NewTicker(interval)
		)
		defer sleepTicker.Stop()

		for {
			st, err := c.Status(ctx, task)
			if err != nil {
				yield(Tick{}, err)
				return
			}

			switch st.State {
			case StateComplete:
				art, err := c.FetchArtifact(ctx, st.Output, opts.MultiFrame, opts.PreferAnimated)
				if err != nil {
					yield(Tick{Status: st}, err)
					return
				}
				yield(Tick{Status: st, File: art, Final: true}, nil)
				return
			case StateFailed:
				yield(Tick{Status: st}, &RemoteTaskFailure{TaskID: task, Reason: st.Error})
				return
			}

			if !emitted || st != last {
				tick := Tick{Status: st}
				if st.Output != "" && st.Output != previewRef {
					// Streaming previews are single frames even for multi-frame requests.
					art, err := c.FetchArtifact(ctx, st.Output, false, false)
					if err != nil {
						logger.Warn("preview fetch failed", zap.String("ref", st.Output), zap.Error(err))
					} else {
						previewRef = st.Output
						tick.File = art
					}
				}
				if !yield(tick, nil) {
					return
				}
				last, emitted = st, true
			}

			select {
			case <-ctx.Done():
				yield(Tick{}, ctx.Err())
				return
			case <-deadline:
				yield(Tick{}, &TimeoutError{TaskID: task, After: opts.MaxWait})
				return
			case <-sleepTicker.C:
			}
		}
	}
}
