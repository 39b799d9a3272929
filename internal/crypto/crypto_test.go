package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/locket/internal/canon"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testKey(t *testing.T) *Key {
	t.Helper()
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	return key
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), a)
	assert.NotEqual(t, a, b)

	key, err := ParseKey(a)
	require.NoError(t, err)
	key.Destroy()
}

func TestParseKeyRejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", testKeyHex[:62]},
		{"long", testKeyHex + "00"},
		{"not hex", strings.Repeat("zz", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.in)
			require.Error(t, err)
			assert.True(t, IsBadKey(err))

			var ce *Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "parse key", ce.Op)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	key := testKey(t)
	values := []any{
		map[string]any{"mood": "calm", "score": 7, "tags": []any{"a", "b"}},
		"plain string",
		[]any{1.5, nil, true},
		map[string]any{"note": "<b> ", "nested": map[string]any{"z": 1, "a": 2}},
	}
	for _, v := range values {
		pkg, err := Encrypt(v, key)
		require.NoError(t, err)

		got, err := Decrypt(pkg, key)
		require.NoError(t, err)
		assert.Equal(t, canon.MustString(v), canon.MustString(got))
	}
}

func TestEncryptShape(t *testing.T) {
	key := testKey(t)
	pkg, err := Encrypt(map[string]any{"x": 1}, key)
	require.NoError(t, err)

	assert.Len(t, pkg.IV, NonceSize*2)
	assert.Len(t, pkg.AuthTag, TagSize*2)
	assert.Len(t, pkg.EncryptedData, len(`{"x":1}`)*2)
	require.NoError(t, pkg.Validate())
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	key := testKey(t)
	a, err := Encrypt("same", key)
	require.NoError(t, err)
	b, err := Encrypt("same", key)
	require.NoError(t, err)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.EncryptedData+a.AuthTag, b.EncryptedData+b.AuthTag)
}

func TestDecryptWrongKey(t *testing.T) {
	key := testKey(t)
	pkg, err := Encrypt("secret", key)
	require.NoError(t, err)

	other, err := GenerateKey()
	require.NoError(t, err)
	_, err = DecryptHex(pkg, other)
	require.Error(t, err)
	assert.True(t, IsAuthFailed(err))
}

func TestDecryptTampered(t *testing.T) {
	key := testKey(t)
	pkg, err := Encrypt(map[string]any{"a": "b"}, key)
	require.NoError(t, err)

	// flip xors mask into the decoded byte at index i (negative counts from
	// the end) and re-encodes.
	flip := func(s string, i int, mask byte) string {
		b, err := hex.DecodeString(s)
		require.NoError(t, err)
		if i < 0 {
			i += len(b)
		}
		b[i] ^= mask
		return hex.EncodeToString(b)
	}
	middle := func(s string) int { return len(s) / 4 }

	tests := []struct {
		name   string
		mutate func(Package) Package
	}{
		{"ciphertext first byte", func(p Package) Package { p.EncryptedData = flip(p.EncryptedData, 0, 0xff); return p }},
		{"ciphertext last byte", func(p Package) Package { p.EncryptedData = flip(p.EncryptedData, -1, 0x01); return p }},
		{"ciphertext middle bit", func(p Package) Package {
			p.EncryptedData = flip(p.EncryptedData, middle(p.EncryptedData), 0x10)
			return p
		}},
		{"tag first byte", func(p Package) Package { p.AuthTag = flip(p.AuthTag, 0, 0xff); return p }},
		{"tag last byte", func(p Package) Package { p.AuthTag = flip(p.AuthTag, -1, 0x01); return p }},
		{"tag middle bit", func(p Package) Package { p.AuthTag = flip(p.AuthTag, middle(p.AuthTag), 0x08); return p }},
		{"iv first byte", func(p Package) Package { p.IV = flip(p.IV, 0, 0xff); return p }},
		{"iv last byte", func(p Package) Package { p.IV = flip(p.IV, -1, 0x80); return p }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.mutate(pkg), key)
			require.Error(t, err)
			assert.True(t, IsAuthFailed(err))
		})
	}
}

func TestDecryptMalformed(t *testing.T) {
	key := testKey(t)
	tests := []struct {
		name string
		pkg  Package
	}{
		{"empty", Package{}},
		{"short iv", Package{IV: "00", EncryptedData: "00", AuthTag: strings.Repeat("00", TagSize)}},
		{"bad hex data", Package{IV: strings.Repeat("00", NonceSize), EncryptedData: "zz", AuthTag: strings.Repeat("00", TagSize)}},
		{"short tag", Package{IV: strings.Repeat("00", NonceSize), EncryptedData: "00", AuthTag: "00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.pkg, key)
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestDestroyedKey(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	assert.True(t, key.Alive())

	key.Destroy()
	key.Destroy()
	assert.False(t, key.Alive())

	_, err = Encrypt("x", key)
	assert.True(t, IsBadKey(err))

	var nilKey *Key
	_, err = Encrypt("x", nilKey)
	assert.True(t, IsBadKey(err))
}

func TestEncryptHexBadKey(t *testing.T) {
	_, err := EncryptHex("x", "nope")
	assert.True(t, IsBadKey(err))
}

func TestIntegrityHash(t *testing.T) {
	pkg := Package{
		IV:            "00112233445566778899aabb",
		EncryptedData: "deadbeef",
		AuthTag:       "0f0e0d0c0b0a09080706050403020100",
	}
	h1, err := IntegrityHash(pkg)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^0x[0-9a-f]{64}$`), h1)

	// Same package, different key order on the wire: same hash.
	var reordered Package
	require.NoError(t, json.Unmarshal(
		[]byte(`{"authTag":"0f0e0d0c0b0a09080706050403020100","iv":"00112233445566778899aabb","encryptedData":"deadbeef"}`),
		&reordered))
	h2, err := IntegrityHash(reordered)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	pkg.EncryptedData = "deadbeee"
	h3, err := IntegrityHash(pkg)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestPackageAliasShape(t *testing.T) {
	key := testKey(t)
	pkg, err := Encrypt(map[string]any{"v": 1}, key)
	require.NoError(t, err)

	alias, err := json.Marshal(map[string]string{"iv": pkg.IV, "content": pkg.EncryptedData, "tag": pkg.AuthTag})
	require.NoError(t, err)

	parsed, err := ParsePackage(alias)
	require.NoError(t, err)
	assert.Equal(t, pkg, parsed)

	got, err := Decrypt(parsed, key)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, canon.MustString(got))
}

func TestParsePackageInvalid(t *testing.T) {
	_, err := ParsePackage([]byte(`not json`))
	assert.True(t, IsMalformed(err))

	_, err = ParsePackage([]byte(`{"iv":"00"}`))
	assert.True(t, IsMalformed(err))
}

func TestNoisePackage(t *testing.T) {
	for i := 0; i < 20; i++ {
		pkg, err := NoisePackage(16, 64)
		require.NoError(t, err)
		require.NoError(t, pkg.Validate())
		n := len(pkg.EncryptedData) / 2
		assert.GreaterOrEqual(t, n, 16)
		assert.LessOrEqual(t, n, 64)
	}

	_, err := NoisePackage(10, 5)
	assert.Error(t, err)
}

func TestDecryptNonJSONPlaintext(t *testing.T) {
	key := testKey(t)
	// Build a package over raw bytes that are not JSON.
	var pkg Package
	err := key.use("test", func(raw []byte) error {
		gcm, err := newGCM(raw)
		require.NoError(t, err)
		nonce := make([]byte, NonceSize)
		sealed := gcm.Seal(nil, nonce, []byte("hello world"), nil)
		split := len(sealed) - TagSize
		pkg = Package{
			IV:            strings.Repeat("00", NonceSize),
			EncryptedData: hex.EncodeToString(sealed[:split]),
			AuthTag:       hex.EncodeToString(sealed[split:]),
		}
		return nil
	})
	require.NoError(t, err)

	got, err := Decrypt(pkg, key)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}
