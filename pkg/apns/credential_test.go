package apns

import (
	"crypto/ecdsa"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testArchivePassphrase = "secret"
	testKeyID             = "ABC123DEFG"
	testTeamID            = "DEF123GHIJ"
)

func TestLoadCertificate_HappyPath(t *testing.T) {
	cred, err := LoadCertificateFile("testdata/cert.p12", testArchivePassphrase)
	require.NoError(t, err)

	assert.Equal(t, authModeCertificate, cred.authMode())
	require.Len(t, cred.Certificate.Certificate, 1)
	assert.NotNil(t, cred.Certificate.PrivateKey)
	require.NotNil(t, cred.Certificate.Leaf)

	info := cred.Info
	require.NotNil(t, info)
	assert.Equal(t, "Apple Push Services: com.example.app", info.CommonName)
	assert.Equal(t, "com.example.app", info.BundleID)
	assert.Equal(t, "Example Inc.", info.OrgName)
	assert.Equal(t, "ABCDE12345", info.OrgUnit)
	assert.Equal(t, "US", info.Country)
	assert.True(t, info.Development)
	assert.True(t, info.Production)
	assert.Empty(t, info.Topics)

	assert.True(t, info.SupportsTopic("com.example.app"))
	assert.False(t, info.SupportsTopic("com.example.other"))

	assert.False(t, info.IsExpired(time.Now()))
	assert.True(t, info.IsExpired(info.Expiry.Add(time.Second)))
}

func TestLoadCertificate_Chain(t *testing.T) {
	cred, err := LoadCertificateFile("testdata/chain.p12", testArchivePassphrase)
	require.NoError(t, err)

	// Leaf first, followed by the issuing CA
	require.Len(t, cred.Certificate.Certificate, 2)
	assert.Equal(t, cred.Certificate.Leaf.Raw, cred.Certificate.Certificate[0])
	assert.Equal(t, "com.example.chained", cred.Info.BundleID)
	assert.True(t, cred.Info.Development)
	assert.False(t, cred.Info.Production)
}

func TestLoadCertificate_WrongPassphrase(t *testing.T) {
	for _, filename := range []string{"testdata/cert.p12", "testdata/chain.p12"} {
		_, err := LoadCertificateFile(filename, "wrong")
		assert.Equal(t, ErrDecryptionFailed, err)
	}
}

func TestLoadCertificate_Malformed(t *testing.T) {
	_, err := LoadCertificate(nil, testArchivePassphrase)
	assert.True(t, errors.Is(err, ErrMalformedArchive))

	_, err = LoadCertificate([]byte("definitely not a pkcs12 archive"), testArchivePassphrase)
	assert.True(t, errors.Is(err, ErrMalformedArchive))

	_, err = LoadCertificateFile("testdata/missing.p12", testArchivePassphrase)
	assert.Error(t, err)
}

func TestLoadSigningKey_HappyPath(t *testing.T) {
	cred, err := LoadSigningKeyFile("testdata/AuthKey_ABC123DEFG.p8", testKeyID, testTeamID)
	require.NoError(t, err)

	assert.Equal(t, authModeToken, cred.authMode())
	assert.Equal(t, testKeyID, cred.KeyID)
	assert.Equal(t, testTeamID, cred.TeamID)
	assert.IsType(t, &ecdsa.PrivateKey{}, cred.Key)
}

func TestLoadSigningKey_Invalid(t *testing.T) {
	valid, err := os.ReadFile("testdata/AuthKey_ABC123DEFG.p8")
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		pem    func() []byte
		keyID  string
		teamID string
	}{
		{"garbage", func() []byte { return []byte("garbage") }, testKeyID, testTeamID},
		{"rsa key", readTestFile(t, "testdata/rsa.p8"), testKeyID, testTeamID},
		{"p-384 key", readTestFile(t, "testdata/p384.p8"), testKeyID, testTeamID},
		{"missing key id", func() []byte { return valid }, "", testTeamID},
		{"missing team id", func() []byte { return valid }, testKeyID, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSigningKey(tc.pem(), tc.keyID, tc.teamID)
			assert.True(t, errors.Is(err, ErrMalformedKey))
		})
	}
}

func readTestFile(t *testing.T, filename string) func() []byte {
	return func() []byte {
		data, err := os.ReadFile(filename)
		require.NoError(t, err)
		return data
	}
}

func newTestSigningCredential(t *testing.T) *SigningCredential {
	cred, err := LoadSigningKeyFile("testdata/AuthKey_ABC123DEFG.p8", testKeyID, testTeamID)
	require.NoError(t, err)
	return cred
}
