package protocol

// crcSeed starts every trailer computation
const crcSeed = 0xFFFF

// CRC16 calculates the CRC16 (CCITT, reflected, seed 0xFFFF) trailer
// appended to answer frames and settings records.
func CRC16(data []byte) uint16 {
	return UpdateCRC16(crcSeed, data)
}

// UpdateCRC16 continues a CRC16 computation over data
func UpdateCRC16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// PutTrailer stores crc big endian in b[0:2]
func PutTrailer(b []byte, crc uint16) {
	b[0] = uint8(crc >> 8)
	b[1] = uint8(crc)
}

// Trailer reads the big endian CRC stored in b[0:2]
func Trailer(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// CheckTrailer reports whether frame ends with the CRC16 of the bytes
// before it.
func CheckTrailer(frame []byte) bool {
	if len(frame) < TrailerSize {
		return false
	}
	body := frame[:len(frame)-TrailerSize]
	return Trailer(frame[len(body):]) == CRC16(body)
}
