package dynamostore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
)

func TestSubscriberKey(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		key := dynamostore.SubscriberKey{UserID: "user-1", Token: "token-abc"}
		parsed, err := dynamostore.ParseSubscriberKey(key.String())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	})

	t.Run("composite format", func(t *testing.T) {
		t.Parallel()
		key := dynamostore.SubscriberKey{UserID: "u", Token: "tok"}
		assert.Equal(t, "u:::tok", key.String())
	})

	t.Run("malformed keys", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []string{"", "no-separator", ":::token", "user:::"} {
			_, err := dynamostore.ParseSubscriberKey(raw)
			assert.ErrorIs(t, err, dynamostore.ErrInvalidKey, raw)
		}
	})
}

func TestValidKeyPart(t *testing.T) {
	t.Parallel()

	assert.True(t, dynamostore.ValidKeyPart("user-1"))
	assert.False(t, dynamostore.ValidKeyPart(""))
	assert.False(t, dynamostore.ValidKeyPart("user:::1"))
}

func TestPlatform(t *testing.T) {
	t.Parallel()

	assert.True(t, dynamostore.PlatformAPNS.Valid())
	assert.True(t, dynamostore.PlatformFCM.Valid())
	assert.False(t, dynamostore.Platform(0).Valid())
	assert.False(t, dynamostore.Platform(9).Valid())
	assert.Equal(t, "apns", dynamostore.PlatformAPNS.String())
	assert.Equal(t, "fcm", dynamostore.PlatformFCM.String())
}
