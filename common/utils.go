package common

import (
	"crypto/rand"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// The returned string has No 0x prefix
func ByteSliceToPureHexStr(b []byte) string {
	return Trim0xPrefix(ethcommon.Bytes2Hex(b))
}

func HexStrToByteSlice(hexStr string) []byte {
	return ethcommon.Hex2Bytes(Trim0xPrefix(hexStr))
}

// HexStrToBytes32 converts a hex string (with/without prefix 0x) to [32]byte
func HexStrToBytes32(hexStr string) [32]byte {
	var bytes32 [32]byte
	copy(bytes32[:], ethcommon.Hex2BytesFixed(Trim0xPrefix(hexStr), 32))
	return bytes32
}

// HexStrToBigInt converts a hex string (with/without prefix 0x) to *big.Int
func HexStrToBigInt(hexStr string) *big.Int {
	bigInt, ok := new(big.Int).SetString(Trim0xPrefix(hexStr), 16)
	if !ok {
		return nil
	}
	return bigInt
}

// BigInt2Bytes32 converts a big int to [32]byte (left padded)
func BigInt2Bytes32(bigInt *big.Int) [32]byte {
	return [32]byte(ethcommon.LeftPadBytes(bigInt.Bytes(), 32))
}

// BigIntToHexStr converts a big int to hex string with prefix 0x
func BigIntToHexStr(bigInt *big.Int) string {
	return Prepend0xPrefix(bigInt.Text(16))
}

// Trim 0x or 0X prefix off the string.
func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

func Prepend0xPrefix(str string) string {
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		return str
	}
	return "0x" + str
}

// RandEthAddress generates a random 20-byte address.
func RandEthAddress() ethcommon.Address {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return ethcommon.Address{}
	}
	return ethcommon.BytesToAddress(b)
}

// RandBytes32 generates [32]byte with random values
func RandBytes32() [32]byte {
	var b [32]byte
	n, err := rand.Read(b[:])

	if err != nil {
		return [32]byte{}
	}
	if n != 32 {
		return [32]byte{}
	}

	return b
}

func RandBigInt(byteNum int) *big.Int {
	b := make([]byte, byteNum)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return new(big.Int).SetBytes(b)
}

func BigIntClone(bigInt *big.Int) *big.Int {
	return new(big.Int).Set(bigInt)
}

// Shorten shortens a hex string so that both sides have n characters and
// the rest is replaced with "..."
func Shorten(hexStr string, n int) string {
	str := Trim0xPrefix(hexStr)

	if len(str) <= n*2 {
		return Prepend0xPrefix(str)
	}
	return Prepend0xPrefix(str[:n] + "..." + str[len(str)-n:])
}
