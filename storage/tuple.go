package storage

import "encoding/binary"

// Tuple is the opaque, length-prefixed byte payload carried by WAL data records. This package never
// interprets its contents; that is the job of whatever table layout sits above the storage core.
type Tuple struct {
	Data []byte
}

func NewTuple(data []byte) Tuple {
	return Tuple{Data: data}
}

// Size returns the number of bytes SerializeTo writes, including the length prefix.
func (t Tuple) Size() int {
	return 4 + len(t.Data)
}

func (t Tuple) SerializeTo(dst []byte) int {
	binary.BigEndian.PutUint32(dst, uint32(len(t.Data)))
	copy(dst[4:], t.Data)
	return t.Size()
}

// DeserializeFrom reads a tuple written by SerializeTo and returns it along with the number of bytes
// consumed.
func DeserializeFrom(src []byte) (Tuple, int) {
	n := binary.BigEndian.Uint32(src)
	data := make([]byte, n)
	copy(data, src[4:4+n])
	return Tuple{Data: data}, 4 + int(n)
}

func (t Tuple) Clone() Tuple {
	data := make([]byte, len(t.Data))
	copy(data, t.Data)
	return Tuple{Data: data}
}
