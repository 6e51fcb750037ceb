package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return p
}

func TestNewPipelineRejectsShortKey(t *testing.T) {
	_, err := NewPipeline([]byte("too short"))
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	p := testPipeline(t)

	for _, plaintext := range []string{"", "hi", "a longer message with spaces and \x00 bytes"} {
		env, err := p.Encrypt([]byte(plaintext))
		require.NoError(t, err)

		got, err := p.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(got))
	}
}

func TestEnvelopesAreUnique(t *testing.T) {
	p := testPipeline(t)

	a, err := p.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := p.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Content, b.Content)
	assert.NotEqual(t, a.Salt, b.Salt)
}

// flipHexDigit returns s with its last hex digit changed.
func flipHexDigit(s string) string {
	b := []byte(s)
	last := len(b) - 1
	if b[last] == '0' {
		b[last] = '1'
	} else {
		b[last] = '0'
	}
	return string(b)
}

func TestTamperingFailsIntegrity(t *testing.T) {
	p := testPipeline(t)

	tampers := map[string]func(*Envelope){
		"iv":      func(e *Envelope) { e.IV = flipHexDigit(e.IV) },
		"content": func(e *Envelope) { e.Content = flipHexDigit(e.Content) },
		"hmac":    func(e *Envelope) { e.HMAC = flipHexDigit(e.HMAC) },
		"salt":    func(e *Envelope) { e.Salt = flipHexDigit(e.Salt) },
	}

	for name, tamper := range tampers {
		t.Run(name, func(t *testing.T) {
			env, err := p.Encrypt([]byte("attack at dawn"))
			require.NoError(t, err)

			tamper(env)
			got, err := p.Decrypt(env)
			assert.ErrorIs(t, err, ErrIntegrity)
			assert.Nil(t, got)
		})
	}
}

// The auth tag is outside the keyed digest, so corrupting it passes the
// integrity check and must surface as a cipher failure instead.
func TestTamperedAuthTagFailsCipher(t *testing.T) {
	p := testPipeline(t)

	env, err := p.Encrypt([]byte("attack at dawn"))
	require.NoError(t, err)

	env.AuthTag = flipHexDigit(env.AuthTag)
	got, err := p.Decrypt(env)
	assert.ErrorIs(t, err, ErrCipher)
	assert.Nil(t, got)
}

func TestMalformedHexFailsIntegrity(t *testing.T) {
	p := testPipeline(t)

	env, err := p.Encrypt([]byte("x"))
	require.NoError(t, err)

	env.Content = "not hex at all"
	_, err = p.Decrypt(env)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestIndependentMasterKeysCannotDecrypt(t *testing.T) {
	a := testPipeline(t)
	b, err := NewPipeline(bytes.Repeat([]byte{0x43}, 32))
	require.NoError(t, err)

	env, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Decrypt(env)
	assert.ErrorIs(t, err, ErrIntegrity)
}
