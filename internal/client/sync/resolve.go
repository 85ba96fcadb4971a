package sync

import (
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/progress"
)

// Side names the winner of a progress conflict.
type Side int

const (
	Local Side = iota
	Remote
)

// Resolve picks between local and remote read progress by last write time.
// Ties favor local.
func Resolve(local, remote models.ReadProgress) Side {
	if remote.LastReadAt.After(local.LastReadAt) {
		return Remote
	}
	return Local
}

// sameProgress reports whether two records carry the same reading position.
func sameProgress(a, b models.ReadProgress) bool {
	return a.ScrollPercent == b.ScrollPercent
}

func remoteProgress(id string, rp models.RemoteProgress) models.ReadProgress {
	return models.ReadProgress{
		BookmarkID:    id,
		ScrollPercent: progress.Clamp(rp.ScrollPercent),
		LastReadAt:    rp.UpdatedAt.UTC(),
	}
}
