package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/myeasypage/easypage/pkg/db"
	"k8s.io/apimachinery/pkg/util/wait"
)

func (b *backend) StartPurgerDaemon(stopCh <-chan struct{}) {
	b.log.Infof("starting purge daemon. Purge interval: %v, verification retention: %v",
		b.purgeInterval, b.verificationRetention)
	wait.JitterUntil(func() {
		if err := b.Purge(context.Background()); err != nil {
			b.log.Errorf("purge failed: %v", err)
		}
	}, b.purgeInterval, .002, true, stopCh)
}

// Purge deletes inert one-time codes and old verifications, drops idle rate
// limit counters and removes DNS records of subdomains nobody owns any more.
func (b *backend) Purge(ctx context.Context) error {
	b.log.Infof("Beginning purge")

	otps, verifications, err := b.db.PurgeExpired(ctx, b.now(), b.verificationRetention)
	if err != nil {
		return fmt.Errorf("purging codes: %w", err)
	}
	b.log.Infof("One-time codes purged from DB: %v", otps)
	b.log.Infof("Verifications purged from DB: %v", verifications)

	if b.counters != nil {
		b.counters.Sweep()
	}

	pruned, err := b.dns.Prune(ctx, func(ctx context.Context, label string) (bool, error) {
		_, err := b.db.GetOwnerBySubdomain(ctx, label)
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("pruning DNS records: %w", err)
	}
	b.log.Infof("Records purged from DNS: %v", pruned)
	return nil
}
