// Copyright (c) 2021-2025 The Decred developers
// Copyright (c) 2026 The umbrad developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hosts

import (
	"encoding/base32"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// onionSuffix is the top level domain of Tor onion services.
	onionSuffix = ".onion"

	// torV3EncodedLen is the length of the base32 encoded service identifier
	// of a version 3 onion address, excluding the onion suffix.
	torV3EncodedLen = 56

	// torV3VersionByte is the version byte trailing the public key and the
	// checksum of a version 3 onion address.
	torV3VersionByte = 3

	// torV3ChecksumPrefix is hashed along with the public key and the version
	// byte to produce the checksum of a version 3 onion address.
	torV3ChecksumPrefix = ".onion checksum"
)

// calcTorV3Checksum returns the two byte checksum of a version 3 onion
// address per the Tor rendezvous specification:
//
//	CHECKSUM = H(".onion checksum" | PUBKEY | VERSION)[:2]
func calcTorV3Checksum(publicKey [32]byte) [2]byte {
	h := sha3.New256()
	h.Write([]byte(torV3ChecksumPrefix))
	h.Write(publicKey[:])
	h.Write([]byte{torV3VersionByte})
	var checksum [2]byte
	copy(checksum[:], h.Sum(nil))
	return checksum
}

// IsOnionV3 returns whether or not the passed host is a well formed version 3
// onion service address, i.e. 56 base32 characters encoding a 32 byte ed25519
// public key, a valid checksum and the version byte, followed by ".onion".
func IsOnionV3(host string) bool {
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, onionSuffix) {
		return false
	}
	id := strings.TrimSuffix(host, onionSuffix)
	if len(id) != torV3EncodedLen {
		return false
	}

	data, err := base32.StdEncoding.DecodeString(strings.ToUpper(id))
	if err != nil || len(data) != 35 {
		return false
	}
	if data[34] != torV3VersionByte {
		return false
	}

	var publicKey [32]byte
	copy(publicKey[:], data[:32])
	checksum := calcTorV3Checksum(publicKey)
	return data[32] == checksum[0] && data[33] == checksum[1]
}
