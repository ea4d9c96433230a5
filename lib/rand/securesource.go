// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package rand

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
)

// secureSource is a math/rand/v2.Source reading from crypto/rand.Reader.
// It is safe for concurrent use; the publisher draws response delays from
// many goroutines at once.
type secureSource struct {
	rd  io.Reader
	mut sync.Mutex
	buf [8]byte
}

func newSecureSource() *secureSource {
	return &secureSource{
		rd: bufio.NewReader(rand.Reader),
	}
}

func (s *secureSource) Uint64() uint64 {
	s.mut.Lock()
	defer s.mut.Unlock()

	if _, err := io.ReadFull(s.rd, s.buf[:]); err != nil {
		panic("randomness failure: " + err.Error())
	}
	return binary.LittleEndian.Uint64(s.buf[:])
}
