package monetico_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evenio/monetico-bridge/internal/monetico"
)

func TestTokenRoundTrip(t *testing.T) {
	codec := monetico.NewTokenCodec("s3cret-key")

	for i := 0; i < 20; i++ {
		identifier := uuid.NewString()
		token := codec.Sign(identifier)

		got, err := codec.Verify(token)
		require.NoError(t, err)
		require.Equal(t, identifier, got)
	}
}

func TestTokenPinnedVector(t *testing.T) {
	codec := monetico.NewTokenCodec("s3cret-key")
	token := codec.Sign("0c8f8b2d-58a4-4f37-9f05-7f3c2f8e1a11")
	require.Equal(t,
		"30633866386232642D353861342D346633372D396630352D3766336332663865316131313A34623766366664363034383634383639336139363331343365333633393435346336386631353235383165356639333333373530366139646532353130623162",
		token)
}

func TestTokenTamperDetection(t *testing.T) {
	codec := monetico.NewTokenCodec("s3cret-key")
	token := codec.Sign("3c1f5f9e-9a2f-4f2a-8a77-6f9a1f0b2c3d")

	for i := 0; i < len(token); i++ {
		altered := []byte(token)
		if altered[i] == 'A' {
			altered[i] = 'B'
		} else {
			altered[i] = 'A'
		}
		_, err := codec.Verify(string(altered))
		require.ErrorIs(t, err, monetico.ErrInvalidToken, "flipped byte at %d must be detected", i)
	}
}

func TestTokenRejectsForeignKey(t *testing.T) {
	codec := monetico.NewTokenCodec("s3cret-key")
	other := monetico.NewTokenCodec("another-key")

	token := other.Sign("3c1f5f9e-9a2f-4f2a-8a77-6f9a1f0b2c3d")
	_, err := codec.Verify(token)
	require.ErrorIs(t, err, monetico.ErrInvalidToken)
}

func TestTokenRejectsGarbage(t *testing.T) {
	codec := monetico.NewTokenCodec("s3cret-key")

	for _, token := range []string{"", "zz", "GG00", "41", "4141"} {
		_, err := codec.Verify(token)
		require.ErrorIs(t, err, monetico.ErrInvalidToken, "token %q", token)
	}
}
