// © Copyright 2026, the monetdb-go authors
// SPDX-License-Identifier: MPL-2.0

package mapi

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
)

// HashAlgo names a digest algorithm used in the credential exchange. The
// wire names match the tags the server advertises in its challenge.
type HashAlgo string

const (
	HashSHA512 HashAlgo = "SHA512"
	HashSHA384 HashAlgo = "SHA384"
	HashSHA256 HashAlgo = "SHA256"
	HashSHA224 HashAlgo = "SHA224"
	HashSHA1   HashAlgo = "SHA1"
	HashMD5    HashAlgo = "MD5"
)

// DefaultHashPreference is the client preference order, strongest first.
var DefaultHashPreference = []HashAlgo{
	HashSHA512, HashSHA384, HashSHA256, HashSHA224, HashSHA1, HashMD5,
}

// newHash returns a hash.Hash for the algorithm, or nil if the algorithm is
// not supported by this client.
func (a HashAlgo) newHash() hash.Hash {
	switch a {
	case HashSHA512:
		return sha512.New()
	case HashSHA384:
		return sha512.New384()
	case HashSHA256:
		return sha256.New()
	case HashSHA224:
		return sha256.New224()
	case HashSHA1:
		return sha1.New()
	case HashMD5:
		return md5.New()
	default:
		return nil
	}
}

// hexSum returns the lowercase hex digest of data under the algorithm.
func (a HashAlgo) hexSum(data string) (string, error) {
	h := a.newHash()
	if h == nil {
		return "", authErrf("unsupported hash algorithm %q", string(a))
	}
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Challenge is the parsed first server line of the handshake:
//
//	salt:serverid:protocolversion:hashalgolist:endianness:passwordalgo:
type Challenge struct {
	Salt         string
	ServerID     string
	Version      int
	Algos        []string // server-supported credential digest algorithms
	Endianness   string
	PasswordAlgo HashAlgo // algorithm applied to the password before salting
}

// parseChallenge splits and validates a challenge line.
func parseChallenge(line string) (*Challenge, error) {
	fields := strings.Split(line, ":")
	if len(fields) < 6 {
		return nil, protocolErrf("challenge has %d fields, want at least 6: %q", len(fields), line)
	}
	version, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, protocolErrf("challenge protocol version %q: %v", fields[2], err)
	}
	if version != protocolVersion {
		return nil, protocolErrf("unsupported protocol version %d, this client speaks %d", version, protocolVersion)
	}
	c := &Challenge{
		Salt:         fields[0],
		ServerID:     fields[1],
		Version:      version,
		Algos:        strings.Split(fields[3], ","),
		Endianness:   fields[4],
		PasswordAlgo: HashAlgo(fields[5]),
	}
	if c.Salt == "" {
		return nil, protocolErrf("challenge carries an empty salt")
	}
	return c, nil
}

// selectAlgorithm picks the first client preference the server also
// supports. It fails before any credentials are composed when the
// intersection is empty.
func selectAlgorithm(serverAlgos []string, prefs []HashAlgo) (HashAlgo, error) {
	for _, pref := range prefs {
		if pref.newHash() == nil {
			continue
		}
		for _, adv := range serverAlgos {
			if strings.EqualFold(strings.TrimSpace(adv), string(pref)) {
				return pref, nil
			}
		}
	}
	return "", authErrf("no common hash algorithm (server offers %s)", strings.Join(serverAlgos, ","))
}

// credentialDigest computes hex(H(hex(passAlgo(password)) + salt)) where H
// is the selected mutual algorithm.
func credentialDigest(algo HashAlgo, c *Challenge, password string) (string, error) {
	prehash, err := c.PasswordAlgo.hexSum(password)
	if err != nil {
		return "", authErrf("server demands password hash %q: %v", string(c.PasswordAlgo), err)
	}
	digest, err := algo.hexSum(prehash + c.Salt)
	if err != nil {
		return "", err
	}
	return digest, nil
}

// credentialsLine composes the client's handshake reply:
//
//	LIT:user:{ALGO}digest:language:database:
func credentialsLine(user string, algo HashAlgo, digest string, language Language, database string) string {
	return fmt.Sprintf("%s:%s:{%s}%s:%s:%s:",
		clientEndianness, user, string(algo), digest, string(language), database)
}

// Redirect is a handshake verdict instructing the client to continue
// elsewhere. Proxy redirects ("merovingian") restart the handshake on the
// same transport; host redirects require a fresh connection to Addr.
type Redirect struct {
	URL      string
	Proxy    bool   // restart handshake on the same connection
	Addr     string // host:port for non-proxy redirects
	Database string
}

// parseRedirect parses a '^' verdict line, with the marker already stripped.
// Wire forms: mapi:merovingian://proxy... and mapi:monetdb://host:port/db.
func parseRedirect(line string) (*Redirect, error) {
	url := strings.TrimSuffix(line, "\n")
	rest, ok := strings.CutPrefix(url, "mapi:")
	if !ok {
		return nil, protocolErrf("malformed redirect %q", url)
	}
	if strings.HasPrefix(rest, "merovingian://") {
		return &Redirect{URL: url, Proxy: true}, nil
	}
	hostPart, ok := strings.CutPrefix(rest, "monetdb://")
	if !ok {
		return nil, protocolErrf("redirect to unknown scheme %q", url)
	}
	addr, database, _ := strings.Cut(hostPart, "/")
	if addr == "" {
		return nil, protocolErrf("redirect without an address %q", url)
	}
	return &Redirect{URL: url, Addr: addr, Database: database}, nil
}

// Error makes a host Redirect usable as the error returned from Connect, so
// callers can reconnect and restart the handshake against Addr.
func (r *Redirect) Error() string {
	return fmt.Sprintf("mapi: redirected to %s", r.URL)
}
