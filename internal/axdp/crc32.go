package axdp

import "hash/crc32"

// CRC32 computes the IEEE 802.3 reflected CRC-32 (poly 0xEDB88320,
// init/xor-out 0xFFFFFFFF) spec.md §6 requires for PayloadCRC32. The
// standard library's crc32.IEEE table is this exact polynomial, so no
// third-party checksum package adds anything here -- see DESIGN.md.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
