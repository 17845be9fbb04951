package common

/*
Packed encoding helpers. Used to build keccak digests over domain data
(withdrawal request digests, deposit identifiers). Encoding is
concatenation without padding between elements; big ints are encoded
as 32-byte unsigned words, uint64 as 8-byte big-endian.
*/

import (
	"bytes"
	"encoding/binary"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

func EncodePacked(values ...interface{}) []byte {
	var res [][]byte
	for _, value := range values {
		switch v := value.(type) {
		case string:
			res = append(res, []byte(v))
		case []byte:
			res = append(res, v)
		case [32]byte:
			res = append(res, v[:])
		case ethcommon.Hash:
			res = append(res, v[:])
		case ethcommon.Address:
			res = append(res, v[:])
		case *big.Int:
			res = append(res, math.U256Bytes(new(big.Int).Set(v)))
		case uint64:
			res = append(res, encodeUint64(v))
		case int64:
			res = append(res, encodeUint64(uint64(v)))
		}
	}
	return bytes.Join(res, nil)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
