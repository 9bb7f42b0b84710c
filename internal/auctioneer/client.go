package auctioneer

import (
	"context"

	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/DoyleJ11/ipl-auction-backend/internal/snapshot"
)

// send posts m unless ctx ends or the loop has exited.
func (a *Auctioneer) send(ctx context.Context, m Msg) error {
	select {
	case a.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrClosed
	}
}

func (a *Auctioneer) do(ctx context.Context, cmd Command) (Result, error) {
	cmd.Reply = make(chan Result, 1)
	if err := a.send(ctx, cmd); err != nil {
		return Result{}, err
	}
	select {
	case res := <-cmd.Reply:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-a.done:
		return Result{}, ErrClosed
	}
}

func (a *Auctioneer) Start(ctx context.Context) error {
	_, err := a.do(ctx, Command{Op: OpStart})
	return err
}

func (a *Auctioneer) Pause(ctx context.Context) error {
	_, err := a.do(ctx, Command{Op: OpPause})
	return err
}

func (a *Auctioneer) Resume(ctx context.Context) error {
	_, err := a.do(ctx, Command{Op: OpResume})
	return err
}

func (a *Auctioneer) SubmitBid(ctx context.Context, team string) (engine.Event, error) {
	res, err := a.do(ctx, Command{Op: OpBid, Team: team})
	return res.Event, err
}

func (a *Auctioneer) Skip(ctx context.Context) error {
	_, err := a.do(ctx, Command{Op: OpSkip})
	return err
}

func (a *Auctioneer) Reset(ctx context.Context) error {
	_, err := a.do(ctx, Command{Op: OpReset})
	return err
}

func (a *Auctioneer) Save(ctx context.Context, path string) (snapshot.Meta, error) {
	res, err := a.do(ctx, Command{Op: OpSave, Path: path})
	return res.Meta, err
}

func (a *Auctioneer) Load(ctx context.Context, path string) (snapshot.Meta, error) {
	res, err := a.do(ctx, Command{Op: OpLoad, Path: path})
	return res.Meta, err
}

func (a *Auctioneer) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := a.send(ctx, GetView{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-a.done:
		return View{}, ErrClosed
	}
}

func (a *Auctioneer) Stats(ctx context.Context) (engine.Stats, error) {
	reply := make(chan engine.Stats, 1)
	if err := a.send(ctx, GetStats{Reply: reply}); err != nil {
		return engine.Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return engine.Stats{}, ctx.Err()
	case <-a.done:
		return engine.Stats{}, ErrClosed
	}
}

// Subscribe registers out for snapshots. The current snapshot is sent right
// away; out is closed on Unsubscribe, on shutdown, or when it falls behind.
func (a *Auctioneer) Subscribe(ctx context.Context, clientID string, out chan Snapshot) error {
	return a.send(ctx, Subscribe{ClientID: clientID, Outbox: out})
}

func (a *Auctioneer) Unsubscribe(ctx context.Context, clientID string) error {
	return a.send(ctx, Unsubscribe{ClientID: clientID})
}

// Close stops the loop and waits for it to exit.
func (a *Auctioneer) Close() {
	select {
	case a.inbox <- Shutdown{}:
	case <-a.done:
	}
	<-a.done
}
