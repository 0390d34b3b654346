package mpt

import "fmt"

// toNibbles expands key bytes into one nibble per byte, high nibble first.
func toNibbles(key []byte) []byte {
	out := make([]byte, len(key)*2)
	for i, b := range key {
		out[i*2] = b >> 4
		out[i*2+1] = b & 0x0f
	}
	return out
}

// encodePath returns the hex-prefix (compact) encoding of a nibble path.
func encodePath(path []byte, leaf bool) []byte {
	var flag byte
	if leaf {
		flag = 2
	}
	buf := make([]byte, len(path)/2+1)
	if len(path)%2 == 1 {
		buf[0] = (flag|1)<<4 | path[0]
		path = path[1:]
	} else {
		buf[0] = flag << 4
	}
	for i := 0; i < len(path); i += 2 {
		buf[i/2+1] = path[i]<<4 | path[i+1]
	}
	return buf
}

// decodePath reverses encodePath.
func decodePath(compact []byte) (path []byte, leaf bool, err error) {
	if len(compact) == 0 {
		return nil, false, fmt.Errorf("%w: empty path", ErrMalformedNode)
	}
	flag := compact[0] >> 4
	if flag > 3 {
		return nil, false, fmt.Errorf("%w: invalid path flag %d", ErrMalformedNode, flag)
	}
	leaf = flag&2 != 0
	nibbles := toNibbles(compact[1:])
	if flag&1 == 1 {
		path = append([]byte{compact[0] & 0x0f}, nibbles...)
	} else {
		if compact[0]&0x0f != 0 {
			return nil, false, fmt.Errorf("%w: non-zero padding nibble", ErrMalformedNode)
		}
		path = nibbles
	}
	return path, leaf, nil
}

func prefixLen(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
