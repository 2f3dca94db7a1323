package transcribe

import (
	"context"
	"fmt"
	"sync"
	"time"

	execute "github.com/alexellis/go-execute/v2"
)

// Leaser keeps the host from suspending the process while a chunk is being
// processed. Release must be safe to call exactly once.
type Leaser interface {
	Acquire(ctx context.Context, reason string) (release func(), err error)
}

// withLease runs fn while holding a lease. A lease that cannot be acquired is
// reported to onErr and fn runs anyway.
func withLease(ctx context.Context, l Leaser, reason string, onErr func(error), fn func()) {
	release, err := l.Acquire(ctx, reason)
	if err != nil {
		onErr(err)
		fn()
		return
	}
	defer release()
	fn()
}

const inhibitGrace = 50 * time.Millisecond

// NopLeaser holds nothing.
type NopLeaser struct{}

func (NopLeaser) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// InhibitLeaser holds a systemd-inhibit sleep lock for the lifetime of each
// lease.
type InhibitLeaser struct {
	Binary string
	Who    string
}

// Acquire starts systemd-inhibit in the background; release stops it and
// waits for it to exit.
func (l InhibitLeaser) Acquire(ctx context.Context, reason string) (func(), error) {
	bin := l.Binary
	if bin == "" {
		bin = "systemd-inhibit"
	}
	who := l.Who
	if who == "" {
		who = "voicememo"
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	task := execute.ExecTask{
		Command: bin,
		Args: []string{
			"--what=sleep:idle",
			"--who=" + who,
			"--why=" + reason,
			"--mode=block",
			"sleep", "infinity",
		},
	}

	started := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := task.Execute(leaseCtx)
		if err == nil && res.ExitCode != 0 && leaseCtx.Err() == nil {
			err = fmt.Errorf("exit %d: %s", res.ExitCode, res.Stderr)
		}
		select {
		case started <- err:
		default:
		}
	}()

	// A lock that fails at startup surfaces within the grace period; a
	// healthy one blocks until release.
	select {
	case err := <-started:
		cancel()
		wg.Wait()
		if err == nil {
			err = fmt.Errorf("%s exited early", bin)
		}
		return nil, fmt.Errorf("acquire inhibit lock: %w", err)
	case <-time.After(inhibitGrace):
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}
