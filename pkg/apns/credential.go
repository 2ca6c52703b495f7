package apns

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pkcs12"
)

// Credential is the authentication material bound to a Client for its
// lifetime. It is either a *CertificateCredential or a *SigningCredential.
type Credential interface {
	authMode() authMode
}

type authMode uint8

const (
	authModeCertificate authMode = iota + 1
	authModeToken
)

func (m authMode) String() string {
	switch m {
	case authModeCertificate:
		return "certificate"
	case authModeToken:
		return "token"
	}
	return "unknown"
}

// CertificateCredential is a TLS client certificate decrypted from a PKCS#12
// archive. Identity is proven during the TLS handshake.
type CertificateCredential struct {
	Certificate tls.Certificate
	Info        *CertificateInfo
}

func (*CertificateCredential) authMode() authMode { return authModeCertificate }

// SigningCredential is a P-256 private key plus the identifiers used to sign
// provider authentication tokens.
type SigningCredential struct {
	Key    *ecdsa.PrivateKey
	KeyID  string
	TeamID string
}

func (*SigningCredential) authMode() authMode { return authModeToken }

// LoadCertificate decrypts a PKCS#12 archive containing an APNs client
// certificate and its private key.
func LoadCertificate(archive []byte, passphrase string) (*CertificateCredential, error) {
	if len(archive) == 0 {
		return nil, errors.Wrap(ErrMalformedArchive, "archive is empty")
	}

	privateKey, leaf, err := pkcs12.Decode(archive, passphrase)
	if err == pkcs12.ErrIncorrectPassword {
		return nil, ErrDecryptionFailed
	} else if err != nil {
		// Decode only understands archives with exactly one certificate, so
		// fall back to walking every bag for archives that carry a chain.
		return loadCertificateChain(archive, passphrase)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  privateKey,
		Leaf:        leaf,
	}
	return &CertificateCredential{
		Certificate: cert,
		Info:        GetCertificateInfo(leaf),
	}, nil
}

// LoadCertificateFile is LoadCertificate for an archive on disk.
func LoadCertificateFile(filename, passphrase string) (*CertificateCredential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading certificate archive %s", filename)
	}
	return LoadCertificate(data, passphrase)
}

func loadCertificateChain(archive []byte, passphrase string) (*CertificateCredential, error) {
	blocks, err := pkcs12.ToPEM(archive, passphrase)
	if err == pkcs12.ErrIncorrectPassword {
		return nil, ErrDecryptionFailed
	} else if err != nil {
		return nil, errors.Wrap(ErrMalformedArchive, err.Error())
	}

	var privateKey crypto.Signer
	var certs []*x509.Certificate
	for _, block := range blocks {
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, errors.Wrap(ErrMalformedArchive, err.Error())
			}
			certs = append(certs, cert)
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			key, err := parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			privateKey = key
		}
	}
	if privateKey == nil {
		return nil, errors.Wrap(ErrMalformedArchive, "archive has no private key")
	}

	type equaler interface {
		Equal(crypto.PublicKey) bool
	}

	var leaf *x509.Certificate
	for _, cert := range certs {
		if pub, ok := privateKey.Public().(equaler); ok && pub.Equal(cert.PublicKey) {
			leaf = cert
			break
		}
	}
	if leaf == nil {
		return nil, errors.Wrap(ErrMalformedArchive, "no certificate matches the private key")
	}

	chain := [][]byte{leaf.Raw}
	for _, cert := range certs {
		if cert != leaf {
			chain = append(chain, cert.Raw)
		}
	}

	return &CertificateCredential{
		Certificate: tls.Certificate{
			Certificate: chain,
			PrivateKey:  privateKey,
			Leaf:        leaf,
		},
		Info: GetCertificateInfo(leaf),
	}, nil
}

// ToPEM labels every key "PRIVATE KEY" regardless of the encoding it used.
func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedArchive, "unsupported private key encoding")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedArchive, "unsupported private key type %T", key)
	}
	return signer, nil
}

// LoadSigningKey parses a PEM encoded PKCS#8 P-256 private key, as downloaded
// from the developer account, into a SigningCredential.
func LoadSigningKey(pemBytes []byte, keyID, teamID string) (*SigningCredential, error) {
	if len(keyID) == 0 {
		return nil, errors.Wrap(ErrMalformedKey, "key id is required")
	}
	if len(teamID) == 0 {
		return nil, errors.Wrap(ErrMalformedKey, "team id is required")
	}

	der := pemBytes
	if block, _ := pem.Decode(pemBytes); block != nil {
		der = block.Bytes
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedKey, err.Error())
	}

	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.Wrap(ErrMalformedKey, "key is not an ecdsa key")
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.Wrap(ErrMalformedKey, "key is not on the p-256 curve")
	}

	return &SigningCredential{
		Key:    key,
		KeyID:  keyID,
		TeamID: teamID,
	}, nil
}

// LoadSigningKeyFile is LoadSigningKey for a .p8 file on disk.
func LoadSigningKeyFile(filename, keyID, teamID string) (*SigningCredential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading signing key %s", filename)
	}
	return LoadSigningKey(data, keyID, teamID)
}

// CertificateInfo describes an APNs client certificate.
type CertificateInfo struct {
	CommonName  string
	OrgName     string
	OrgUnit     string
	Country     string
	BundleID    string
	Topics      []string
	Development bool
	Production  bool
	Expiry      time.Time
}

// GetCertificateInfo extracts the APNs specific attributes and extensions from
// a certificate.
func GetCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	info := &CertificateInfo{
		CommonName: cert.Subject.CommonName,
		Expiry:     cert.NotAfter,
	}

	for _, attr := range cert.Subject.Names {
		value, ok := attr.Value.(string)
		if !ok {
			continue
		}

		switch {
		case attr.Type.Equal(oidOrgName):
			info.OrgName = value
		case attr.Type.Equal(oidOrgUnit):
			info.OrgUnit = value
		case attr.Type.Equal(oidCountry):
			info.Country = value
		case attr.Type.Equal(oidBundleID):
			info.BundleID = value
		}
	}

	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(oidDevelopment):
			info.Development = true
		case ext.Id.Equal(oidProduction):
			info.Production = true
		case ext.Id.Equal(oidTopics):
			info.Topics = parseTopics(ext.Value)
		}
	}

	return info
}

// SupportsTopic returns whether notifications for the topic can be sent with
// this certificate.
func (i *CertificateInfo) SupportsTopic(topic string) bool {
	if len(i.Topics) == 0 {
		return topic == i.BundleID
	}
	for _, t := range i.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// IsExpired returns whether the certificate has expired at the provided time.
func (i *CertificateInfo) IsExpired(at time.Time) bool {
	return at.After(i.Expiry)
}

// Topics are encoded as a sequence of (topic, [names...]) pairs.
func parseTopics(value []byte) []string {
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(value, &raw); err != nil {
		return nil
	}

	topics := make([]string, 0)
	for rest := raw.Bytes; len(rest) > 0; {
		var err error
		var topic string
		if rest, err = asn1.Unmarshal(rest, &topic); err != nil {
			break
		}
		topics = append(topics, topic)

		var names []string
		if rest, err = asn1.Unmarshal(rest, &names); err != nil {
			break
		}
	}
	return topics
}

var (
	oidCountry     = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidOrgName     = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidOrgUnit     = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidBundleID    = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
	oidDevelopment = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 1}
	oidProduction  = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 2}
	oidTopics      = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 6, 3, 6}
)
