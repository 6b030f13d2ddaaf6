// Package boltdbresumer provides a Resumer implementation that uses a Bolt database file as storage.
package boltdbresumer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/AllSeeingEyeTolledEweSew/libtorrent/internal/resumer"
	bolt "go.etcd.io/bbolt"
)

// Keys for the persisten storage.
var Keys = struct {
	InfoHash        []byte
	Dest            []byte
	Name            []byte
	Trackers        []byte
	FixedPeers      []byte
	Info            []byte
	Bitfield        []byte
	AddedAt         []byte
	Paused          []byte
	Seed            []byte
	KeepRedundant   []byte
	BytesDownloaded []byte
	BytesUploaded   []byte
	BytesWasted     []byte
	SeededFor       []byte
}{
	InfoHash:        []byte("info_hash"),
	Dest:            []byte("dest"),
	Name:            []byte("name"),
	Trackers:        []byte("trackers"),
	FixedPeers:      []byte("fixed_peers"),
	Info:            []byte("info"),
	Bitfield:        []byte("bitfield"),
	AddedAt:         []byte("added_at"),
	Paused:          []byte("paused"),
	Seed:            []byte("seed"),
	KeepRedundant:   []byte("keep_redundant_connections"),
	BytesDownloaded: []byte("bytes_downloaded"),
	BytesUploaded:   []byte("bytes_uploaded"),
	BytesWasted:     []byte("bytes_wasted"),
	SeededFor:       []byte("seeded_for"),
}

// Resumer contains methods for saving/loading resume information of a torrent to a BoltDB database.
type Resumer struct {
	db     *bolt.DB
	bucket []byte
}

var _ resumer.Resumer = (*Resumer)(nil)

// New returns a new Resumer.
func New(db *bolt.DB, bucket []byte) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(bucket)
		return err2
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{
		db:     db,
		bucket: bucket,
	}, nil
}

// Write the torrent spec for torrent with `torrentID`.
func (r *Resumer) Write(torrentID string, spec *resumer.Spec) error {
	trackers, err := json.Marshal(spec.Trackers)
	if err != nil {
		return err
	}
	fixedPeers, err := json.Marshal(spec.FixedPeers)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(r.bucket).CreateBucketIfNotExists([]byte(torrentID))
		if err != nil {
			return err
		}
		_ = b.Put(Keys.InfoHash, spec.InfoHash)
		_ = b.Put(Keys.Dest, []byte(spec.Dest))
		_ = b.Put(Keys.Name, []byte(spec.Name))
		_ = b.Put(Keys.Trackers, trackers)
		_ = b.Put(Keys.FixedPeers, fixedPeers)
		_ = b.Put(Keys.Info, spec.Info)
		_ = b.Put(Keys.Bitfield, spec.Bitfield)
		_ = b.Put(Keys.AddedAt, []byte(spec.AddedAt.Format(time.RFC3339)))
		_ = b.Put(Keys.Paused, []byte(strconv.FormatBool(spec.Paused)))
		_ = b.Put(Keys.Seed, []byte(strconv.FormatBool(spec.Seed)))
		_ = b.Put(Keys.KeepRedundant, []byte(strconv.FormatBool(spec.KeepRedundantConnections)))
		return putStats(b, spec.Stats)
	})
}

func putStats(b *bolt.Bucket, stats resumer.Stats) error {
	_ = b.Put(Keys.BytesDownloaded, []byte(strconv.FormatInt(stats.BytesDownloaded, 10)))
	_ = b.Put(Keys.BytesUploaded, []byte(strconv.FormatInt(stats.BytesUploaded, 10)))
	_ = b.Put(Keys.BytesWasted, []byte(strconv.FormatInt(stats.BytesWasted, 10)))
	return b.Put(Keys.SeededFor, []byte(stats.SeededFor.String()))
}

func (r *Resumer) update(torrentID string, fn func(b *bolt.Bucket) error) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		return fn(b)
	})
}

// WriteInfo writes only the info dict of a torrent.
func (r *Resumer) WriteInfo(torrentID string, value []byte) error {
	return r.update(torrentID, func(b *bolt.Bucket) error {
		return b.Put(Keys.Info, value)
	})
}

// WriteBitfield writes only bitfield of a torrent.
func (r *Resumer) WriteBitfield(torrentID string, value []byte) error {
	return r.update(torrentID, func(b *bolt.Bucket) error {
		return b.Put(Keys.Bitfield, value)
	})
}

// WriteStats writes the counters of a torrent.
func (r *Resumer) WriteStats(torrentID string, stats resumer.Stats) error {
	return r.update(torrentID, func(b *bolt.Bucket) error {
		return putStats(b, stats)
	})
}

// WritePaused writes the pause status of a torrent.
func (r *Resumer) WritePaused(torrentID string, value bool) error {
	return r.update(torrentID, func(b *bolt.Bucket) error {
		return b.Put(Keys.Paused, []byte(strconv.FormatBool(value)))
	})
}

// List returns the IDs of all torrents in the database.
func (r *Resumer) List() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// Delete the resume data of the torrent.
func (r *Resumer) Delete(torrentID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(r.bucket).DeleteBucket([]byte(torrentID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Read the resume data of the torrent. Returns resumer.ErrNotFound if there is no data.
func (r *Resumer) Read(torrentID string) (*resumer.Spec, error) {
	var spec *resumer.Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return resumer.ErrNotFound
		}

		value := b.Get(Keys.InfoHash)
		if value == nil {
			return fmt.Errorf("key not found: %q", string(Keys.InfoHash))
		}

		spec = new(resumer.Spec)
		spec.InfoHash = copyBytes(value)
		spec.Dest = string(b.Get(Keys.Dest))
		spec.Name = string(b.Get(Keys.Name))
		spec.Info = copyBytes(b.Get(Keys.Info))
		spec.Bitfield = copyBytes(b.Get(Keys.Bitfield))

		var err error
		value = b.Get(Keys.Trackers)
		if value != nil {
			err = json.Unmarshal(value, &spec.Trackers)
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.FixedPeers)
		if value != nil {
			err = json.Unmarshal(value, &spec.FixedPeers)
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.AddedAt)
		if value != nil {
			spec.AddedAt, err = time.Parse(time.RFC3339, string(value))
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.Paused)
		if value != nil {
			spec.Paused, err = strconv.ParseBool(string(value))
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.Seed)
		if value != nil {
			spec.Seed, err = strconv.ParseBool(string(value))
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.KeepRedundant)
		if value != nil {
			spec.KeepRedundantConnections, err = strconv.ParseBool(string(value))
			if err != nil {
				return err
			}
		}

		for _, kv := range []struct {
			key []byte
			val *int64
		}{
			{Keys.BytesDownloaded, &spec.BytesDownloaded},
			{Keys.BytesUploaded, &spec.BytesUploaded},
			{Keys.BytesWasted, &spec.BytesWasted},
		} {
			value = b.Get(kv.key)
			if value == nil {
				continue
			}
			*kv.val, err = strconv.ParseInt(string(value), 10, 64)
			if err != nil {
				return err
			}
		}

		value = b.Get(Keys.SeededFor)
		if value != nil {
			spec.SeededFor, err = time.ParseDuration(string(value))
			if err != nil {
				return err
			}
		}

		return nil
	})
	return spec, err
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
