package protocol

// CRC16 computes the link checksum over buf. This is the firmware's
// nibble-folding mix, not CRC-16/CCITT or any other polynomial variant; a
// table-driven library CRC cannot be substituted for it. The empty input
// checksum is the initial accumulator, 0xffff.
func CRC16(buf []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range buf {
		d := uint16(b) ^ (crc & 0xff)
		d ^= (d & 0x0f) << 4
		crc = (d << 8) ^ (crc >> 8) ^ (d >> 4) ^ (d << 3)
	}
	return crc
}
