package kernellib

import (
	"crypto/aes"

	"github.com/cephdon/crunchpool/driver"
)

// AESEncryptBlock implements "kernel void aes_encrypt_block(...)": it
// encrypts one 16-byte block per work-item in place using AES-128 ECB
// (block-cipher only, no chaining, matching the teacher's FFU demo scope
// in ffu/aesni). Go's crypto/aes already dispatches to the AES-NI
// instruction set on amd64 when driver.DetectedFeatures().HasAESNI is
// true, so this kernel needs no assembly of its own; it stands in for an
// ACC-kind accelerator kernel. args: blocks (U8,
// 16 bytes/item), key (U8, 16 bytes).
func AESEncryptBlock(item int, global, local driver.Range, args []driver.Arg) {
	blocks := args[0].Array.Bytes()
	key := args[1].Array.Bytes()

	block, err := aes.NewCipher(key)
	if err != nil {
		return
	}
	off := item * aes.BlockSize
	block.Encrypt(blocks[off:off+aes.BlockSize], blocks[off:off+aes.BlockSize])
}
