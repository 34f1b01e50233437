// SPDX-License-Identifier: LGPL-3.0-or-later

package recovery

import (
	"context"
	"time"

	"github.com/fyteclub/syncshell/metrics"
	"github.com/fyteclub/syncshell/phonebook"
	"github.com/fyteclub/syncshell/store"
)

// SweepResult summarizes one plugin-wide recovery pass.
type SweepResult struct {
	PhonebookChanged int
	RecipesPurged    int
	PlayersPurged    int
	TransportErr     error
	ProximityErr     error
}

// Sweep runs the plugin-wide recovery sequence: purge expired
// phonebook entries, GC the content store, retry the transport, and
// re-run proximity once. The GC step drops recipe and player-cache rows
// past their TTL and deletes every refcount-0 chunk, index row and
// on-disk bytes alike, whose last access is older than the recipe TTL;
// pinned and recently accessed chunks are kept. Transport
// and proximity failures are recorded on the result rather than aborting
// the sweep, since each step is independent recovery work.
func Sweep(ctx context.Context, book *phonebook.Book, content *store.Content, now time.Time, retryTransport func(ctx context.Context) error, runProximityOnce func(ctx context.Context) error) (SweepResult, error) {
	var result SweepResult

	changed, err := book.Evict(now)
	if err != nil {
		return result, err
	}
	result.PhonebookChanged = changed

	recipesPurged, playersPurged, err := content.GC(now)
	if err != nil {
		return result, err
	}
	result.RecipesPurged = recipesPurged
	result.PlayersPurged = playersPurged
	metrics.GCSweeps.WithLabelValues("recipes").Add(float64(recipesPurged))
	metrics.GCSweeps.WithLabelValues("playercache").Add(float64(playersPurged))
	metrics.ChunkStoreBytes.Set(float64(content.UsedBytes()))

	if retryTransport != nil {
		result.TransportErr = retryTransport(ctx)
	}
	if runProximityOnce != nil {
		result.ProximityErr = runProximityOnce(ctx)
	}

	return result, nil
}
