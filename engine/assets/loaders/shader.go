package loaders

import (
	"os"

	"github.com/cockroachdb/errors"
)

// SPIR-V magic number, first word of every module.
const spirvMagic = 0x07230203

type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, params interface{}) (interface{}, error) {
	return LoadSPIRV(path)
}

// LoadSPIRV reads a SPIR-V module and returns its words.
func LoadSPIRV(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shader %s", path)
	}
	code, err := bytesToBytecode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid shader %s", path)
	}
	return code, nil
}

func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("SPIR-V size %d is not a positive multiple of 4", len(b))
	}
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}
	if byteCode[0] != spirvMagic {
		return nil, errors.Newf("bad SPIR-V magic %#x", byteCode[0])
	}
	return byteCode, nil
}
