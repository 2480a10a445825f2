package playback

import "github.com/genricoloni/signage/internal/domain"

// Equivalent reports whether two playlists have the same ordered (identity, volume) pairs.
// Equivalent playlists never restart playback.
func Equivalent(a, b []domain.PlaylistItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key() != b[i].Key() || !sameVolume(a[i].Volume, b[i].Volume) {
			return false
		}
	}
	return true
}

func sameVolume(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
