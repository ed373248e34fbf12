package session

import (
	"context"
	"log"

	"chatd/pkg/types"
)

// requestSaveLocked hands the current conversation to the saver goroutine.
// The channel holds one snapshot; a newer one replaces an unsaved older one,
// so a burst of edits collapses into a single write. Callers hold c.mu.
func (c *Controller) requestSaveLocked() {
	if c.store == nil || c.closed {
		return
	}
	snap := c.conv.Clone()
	select {
	case c.saveCh <- snap:
	default:
		select {
		case <-c.saveCh:
		default:
		}
		select {
		case c.saveCh <- snap:
		default:
		}
	}
}

func (c *Controller) saveLoop() {
	defer c.saveWG.Done()
	for snap := range c.saveCh {
		c.saveSnapshot(snap)
	}
}

// saveSnapshot writes one snapshot through the store's optimistic versioning.
// The controller is the only writer for its conversation, so the stored
// version is adopted wholesale rather than fought over.
func (c *Controller) saveSnapshot(snap types.Conversation) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	stored, err := c.store.Get(ctx, snap.ID)
	if err == nil && stored == nil {
		err = c.store.Create(ctx, &snap)
	} else if err == nil {
		snap.Version = stored.Version
		err = c.store.Update(ctx, &snap)
	}
	if err != nil {
		savesTotal.WithLabelValues("error").Inc()
		log.Printf("session event=save_failed id=%s err=%v", snap.ID, err)
		return
	}
	savesTotal.WithLabelValues("ok").Inc()
}
