// Command chainhead-membrane-demo is a small standalone demonstration
// of the epoch-scoped capability surface (C6): it seeds an epoch
// channel, grafts a session, polls it, advances the epoch, shows the
// session fail hard with "staleEpoch", then re-grafts and succeeds
// again. There is no chain I/O here — C6's wire format is explicitly
// out of scope (spec.md §1) and this binary exists only to exercise
// the in-process capability semantics end to end.
package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dando385/chainhead/internal/epochchan"
	"github.com/dando385/chainhead/internal/membrane"
)

func main() {
	log := logrus.New()

	sender, observer := epochchan.New(epochchan.Epoch{Seq: 1, Head: []byte("genesis"), AdoptedBlock: 0})
	m := membrane.New(observer)

	ctx := context.Background()
	session, err := m.Graft(ctx, membrane.NoopSigner{})
	if err != nil {
		log.Fatalf("graft: %v", err)
	}

	status, err := session.PollStatus(ctx)
	fmt.Printf("poll 1: status=%s err=%v\n", status, err)

	if err := sender.Send(epochchan.Epoch{Seq: 2, Head: []byte("first"), AdoptedBlock: 100}); err != nil {
		log.Fatalf("send: %v", err)
	}

	status, err = session.PollStatus(ctx)
	fmt.Printf("poll 2 (after epoch advance): status=%v err=%v stale=%v\n", status, err, membrane.IsStaleEpoch(err))

	session2, err := m.Graft(ctx, membrane.NoopSigner{})
	if err != nil {
		log.Fatalf("re-graft: %v", err)
	}
	status, err = session2.PollStatus(ctx)
	fmt.Printf("poll 3 (after re-graft): status=%s err=%v\n", status, err)
}
