package watchlist

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func key(b byte) solana.PublicKey {
	var p solana.PublicKey
	p[0] = b
	return p
}

func TestSetMatchFindsFirstWatchedKey(t *testing.T) {
	s := NewSet(key(1), key(2))
	require.Equal(t, 2, s.Len())

	found, ok := s.Match([]solana.PublicKey{key(9), key(2), key(1)})
	require.True(t, ok)
	require.Equal(t, key(2), found)
}

func TestSetMatchNoneWatched(t *testing.T) {
	s := NewSet(key(1))
	_, ok := s.Match([]solana.PublicKey{key(8), key(9)})
	require.False(t, ok)
}

func TestSetAddRemove(t *testing.T) {
	s := NewSet()
	s.Add(key(5))
	require.Equal(t, 1, s.Len())

	_, ok := s.Match([]solana.PublicKey{key(5)})
	require.True(t, ok)

	s.Remove(key(5))
	require.Equal(t, 0, s.Len())
	_, ok = s.Match([]solana.PublicKey{key(5)})
	require.False(t, ok)
}
