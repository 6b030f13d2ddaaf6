// Package ipfilter assigns access flags to ranges of IP addresses.
package ipfilter

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/google/btree"
)

// Blocked is the flag of addresses that peers must not be connected to or accepted from.
const Blocked uint32 = 1

var errMixedFamily = errors.New("first and last address of a rule must be of the same family")

// Rule gives flags to all addresses between First and Last inclusive.
type Rule struct {
	First netip.Addr
	Last  netip.Addr
	Flags uint32
}

type rangeItem Rule

func (r *rangeItem) Less(than btree.Item) bool {
	return r.First.Less(than.(*rangeItem).First)
}

// Filter holds non-overlapping ranges of IPv4 and IPv6 addresses.
// Addresses that are not covered by a rule have zero flags.
// It is safe for concurrent use.
type Filter struct {
	m  sync.RWMutex
	v4 *btree.BTree
	v6 *btree.BTree
}

// New returns an empty Filter.
func New() *Filter {
	return &Filter{v4: btree.New(2), v6: btree.New(2)}
}

func (f *Filter) tree(a netip.Addr) *btree.BTree {
	if a.Is4() {
		return f.v4
	}
	return f.v6
}

// AddRule sets flags of the addresses between first and last. It overrides the flags given by previous rules.
func (f *Filter) AddRule(first, last netip.Addr, flags uint32) error {
	first, last = first.Unmap(), last.Unmap()
	if !first.IsValid() || !last.IsValid() || first.Is4() != last.Is4() {
		return errMixedFamily
	}
	if last.Less(first) {
		return fmt.Errorf("first address %s is after last address %s", first, last)
	}
	f.m.Lock()
	defer f.m.Unlock()
	t := f.tree(first)
	var overlaps []*rangeItem
	t.DescendLessOrEqual(&rangeItem{First: first}, func(i btree.Item) bool {
		if r := i.(*rangeItem); !r.Last.Less(first) {
			overlaps = append(overlaps, r)
		}
		return false
	})
	t.AscendGreaterOrEqual(&rangeItem{First: first}, func(i btree.Item) bool {
		r := i.(*rangeItem)
		if last.Less(r.First) {
			return false
		}
		// The range starting at first is already collected.
		if r.First != first {
			overlaps = append(overlaps, r)
		}
		return true
	})
	for _, r := range overlaps {
		t.Delete(r)
		if r.First.Less(first) {
			t.ReplaceOrInsert(&rangeItem{First: r.First, Last: first.Prev(), Flags: r.Flags})
		}
		if last.Less(r.Last) {
			t.ReplaceOrInsert(&rangeItem{First: last.Next(), Last: r.Last, Flags: r.Flags})
		}
	}
	if flags != 0 {
		t.ReplaceOrInsert(&rangeItem{First: first, Last: last, Flags: flags})
	}
	return nil
}

// Access returns the flags of the address.
func (f *Filter) Access(a netip.Addr) uint32 {
	a = a.Unmap()
	if !a.IsValid() {
		return 0
	}
	f.m.RLock()
	defer f.m.RUnlock()
	var flags uint32
	f.tree(a).DescendLessOrEqual(&rangeItem{First: a}, func(i btree.Item) bool {
		if r := i.(*rangeItem); !r.Last.Less(a) {
			flags = r.Flags
		}
		return false
	})
	return flags
}

// Blocked reports whether the address has the Blocked flag.
func (f *Filter) Blocked(ip net.IP) bool {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	return f.Access(a)&Blocked != 0
}

// Rules returns the ranges with non-zero flags in address order, IPv4 first.
func (f *Filter) Rules() []Rule {
	f.m.RLock()
	defer f.m.RUnlock()
	var ret []Rule
	iter := func(i btree.Item) bool {
		ret = append(ret, Rule(*i.(*rangeItem)))
		return true
	}
	f.v4.Ascend(iter)
	f.v6.Ascend(iter)
	return ret
}

// Len returns the number of ranges with non-zero flags.
func (f *Filter) Len() int {
	f.m.RLock()
	defer f.m.RUnlock()
	return f.v4.Len() + f.v6.Len()
}

// Load adds a Blocked rule for each line in r.
// A line is a CIDR prefix, a single address or a range in "first-last" form.
// Empty lines and lines starting with '#' are skipped.
// Invalid lines are passed to logf and skipped. At least one valid line is required when there are invalid lines.
func (f *Filter) Load(r io.Reader, logf func(format string, args ...any)) (int, error) {
	var n int
	var hasError bool
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		l := bytes.TrimSpace(scanner.Bytes())
		if len(l) == 0 || l[0] == '#' {
			continue
		}
		first, last, err := parseLine(string(l))
		if err == nil {
			err = f.AddRule(first, last, Blocked)
		}
		if err != nil {
			hasError = true
			if logf != nil {
				logf("cannot parse ip filter line (%q): %s", string(l), err)
			}
			continue
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	if n == 0 && hasError {
		return 0, errors.New("no valid rules")
	}
	return n, nil
}

func parseLine(s string) (first, last netip.Addr, err error) {
	if a, b, ok := strings.Cut(s, "-"); ok {
		first, err = netip.ParseAddr(strings.TrimSpace(a))
		if err != nil {
			return
		}
		last, err = netip.ParseAddr(strings.TrimSpace(b))
		return
	}
	if !strings.Contains(s, "/") {
		first, err = netip.ParseAddr(s)
		return first, first, err
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return
	}
	p = p.Masked()
	first = p.Addr()
	b := first.AsSlice()
	for i := p.Bits(); i < len(b)*8; i++ {
		b[i/8] |= 1 << (7 - uint(i%8))
	}
	last, _ = netip.AddrFromSlice(b)
	return first, last, nil
}
