// Package magnet parses magnet links of BitTorrent v1 swarms.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/multiformats/go-multihash"
)

var (
	errNotMagnet  = errors.New("not a magnet link")
	errNoInfoHash = errors.New("magnet link has no info hash")
)

// Link is a parsed magnet link.
type Link struct {
	InfoHash [20]byte
	// Display name, optional.
	Name string
	// Tracker URLs. Plain "tr" parameters come first, then the numbered "tr.N" groups in increasing N.
	Trackers []string
	// Peer addresses in host:port form from "x.pe" parameters.
	Peers []string
}

// Parse returns the link in s.
// The info hash is read from the first "xt" parameter with a btih or btmh urn.
func Parse(s string) (*Link, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "magnet" {
		return nil, errNotMagnet
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, err
	}
	l := &Link{Peers: q["x.pe"]}
	if len(q["xt"]) == 0 {
		return nil, errNoInfoHash
	}
	var found bool
	for _, xt := range q["xt"] {
		l.InfoHash, err = parseExactTopic(xt)
		if err == nil {
			found = true
			break
		}
	}
	if !found {
		return nil, err
	}
	l.Name = q.Get("dn")
	l.Trackers = trackers(q)
	return l, nil
}

// trackers collects tracker URLs in order without duplicates.
func trackers(q url.Values) []string {
	var groups []int
	for key := range q {
		if n, ok := strings.CutPrefix(key, "tr."); ok {
			if i, err := strconv.Atoi(n); err == nil && i >= 0 {
				groups = append(groups, i)
			}
		}
	}
	sort.Ints(groups)
	seen := make(map[string]struct{})
	var ret []string
	add := func(urls []string) {
		for _, s := range urls {
			if _, ok := seen[s]; ok || s == "" {
				continue
			}
			seen[s] = struct{}{}
			ret = append(ret, s)
		}
	}
	add(q["tr"])
	for _, i := range groups {
		add(q["tr."+strconv.Itoa(i)])
	}
	return ret
}

func parseExactTopic(xt string) ([20]byte, error) {
	var ih [20]byte
	rest, ok := strings.CutPrefix(xt, "urn:")
	if !ok {
		return ih, fmt.Errorf("invalid xt param: %q", xt)
	}
	urn, value, _ := strings.Cut(rest, ":")
	var digest []byte
	var err error
	switch urn {
	case "btih":
		switch len(value) {
		case hex.EncodedLen(len(ih)):
			digest, err = hex.DecodeString(value)
		case base32.StdEncoding.EncodedLen(len(ih)):
			digest, err = base32.StdEncoding.DecodeString(strings.ToUpper(value))
		default:
			return ih, fmt.Errorf("info hash has invalid length: %d", len(value))
		}
	case "btmh":
		digest, err = sha1Multihash(value)
	default:
		return ih, fmt.Errorf("unsupported urn: %s", urn)
	}
	if err != nil {
		return ih, err
	}
	copy(ih[:], digest)
	return ih, nil
}

// sha1Multihash decodes a hex encoded multihash that must hold a SHA-1 digest.
func sha1Multihash(s string) ([]byte, error) {
	mh, err := multihash.FromHexString(s)
	if err != nil {
		return nil, err
	}
	dh, err := multihash.Decode(mh)
	if err != nil {
		return nil, err
	}
	if dh.Code != multihash.SHA1 || len(dh.Digest) != 20 {
		return nil, fmt.Errorf("multihash is not sha1: %s", dh.Name)
	}
	return dh.Digest, nil
}

// String formats the link with the info hash in hex.
func (l *Link) String() string {
	q := url.Values{}
	if l.Name != "" {
		q.Set("dn", l.Name)
	}
	for _, tr := range l.Trackers {
		q.Add("tr", tr)
	}
	for _, pe := range l.Peers {
		q.Add("x.pe", pe)
	}
	s := "magnet:?xt=urn:btih:" + hex.EncodeToString(l.InfoHash[:])
	if len(q) > 0 {
		s += "&" + q.Encode()
	}
	return s
}
