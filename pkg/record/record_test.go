package record_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/contractscan/pkg/record"
)

var contractsHeader = []string{"address", "bytecode", "function_sighashes", "is_erc20", "is_erc721"}

func TestNewSchema_LocatesColumns(t *testing.T) {
	t.Parallel()

	schema, err := record.NewSchema(contractsHeader, record.DefaultKeyColumn, record.DefaultPayloadColumn)
	require.NoError(t, err)

	item, err := schema.Item([]string{"0xabc", "0x6060", "a,b", "false", "true"}, 2)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", item.Key)
	assert.Equal(t, "0x6060", item.Payload)
	assert.Equal(t, 2, item.Line)
	assert.Equal(t, []string{"0xabc", "0x6060", "a,b", "false", "true"}, item.Fields)
}

func TestNewSchema_MissingColumn(t *testing.T) {
	t.Parallel()

	_, err := record.NewSchema([]string{"address", "is_erc20"}, record.DefaultKeyColumn, record.DefaultPayloadColumn)
	require.ErrorIs(t, err, record.ErrMissingColumn)
}

func TestSchema_OutputHeader(t *testing.T) {
	t.Parallel()

	schema, err := record.NewSchema(contractsHeader, "address", "bytecode")
	require.NoError(t, err)

	header := schema.OutputHeader()

	assert.Equal(t, contractsHeader, header[:len(contractsHeader)])
	assert.Equal(t, record.AnalysisColumns, header[len(contractsHeader):])
}

func TestSchema_ItemRejectsBadRows(t *testing.T) {
	t.Parallel()

	schema, err := record.NewSchema(contractsHeader, "address", "bytecode")
	require.NoError(t, err)

	_, err = schema.Item([]string{"0xabc"}, 3)
	require.ErrorIs(t, err, record.ErrFieldCount)

	_, err = schema.Item([]string{" ", "0x", "", "", ""}, 4)
	require.ErrorIs(t, err, record.ErrEmptyKey)
}

func TestRow_AppendsAnalysis(t *testing.T) {
	t.Parallel()

	item := record.WorkItem{Key: "k", Fields: []string{"k", "0x"}}

	assert.Equal(t, []string{"k", "0x", "x", "y"}, record.Row(item, []string{"x", "y"}))
}

func TestWithPayload_ReplacesOnlyPayload(t *testing.T) {
	t.Parallel()

	header := []string{"bytecode", "function_sighashes", "address", "is_erc20", "is_erc721"}

	schema, err := record.NewSchema(header, record.DefaultKeyColumn, record.DefaultPayloadColumn)
	require.NoError(t, err)

	fields := []string{"", "0x01", "0xabc", "false", "false"}

	item, err := schema.Item(fields, 2)
	require.NoError(t, err)

	item.Key = "0xabc#2"

	assert.Equal(t, []string{"0x6060", "0x01", "0xabc", "false", "false"}, record.WithPayload(item, "0x6060"))
	assert.Equal(t, "0xabc", item.Address())
	assert.Empty(t, fields[0], "input fields are not modified")
}

func TestReader_HeaderThenRecords(t *testing.T) {
	t.Parallel()

	input := "address,bytecode\n0x1,0x60\n\"0x2\",\"\"\n"
	rd := record.NewReader(strings.NewReader(input))

	header, err := rd.Header()
	require.NoError(t, err)
	assert.Equal(t, []string{"address", "bytecode"}, header)

	fields, line, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1", "0x60"}, fields)
	assert.Equal(t, 2, line)

	fields, line, err = rd.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"0x2", ""}, fields)
	assert.Equal(t, 3, line)

	_, _, err = rd.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReader_EmptyInput(t *testing.T) {
	t.Parallel()

	rd := record.NewReader(strings.NewReader(""))

	_, err := rd.Header()
	require.ErrorIs(t, err, record.ErrNoHeader)
}

func TestOpen_DecompressesLZ4(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "contracts.csv.lz4")

	file, err := os.Create(path)
	require.NoError(t, err)

	zw := lz4.NewWriter(file)
	_, err = zw.Write([]byte("address,bytecode\n0x1,0x60\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, file.Close())

	rd, err := record.Open(path)
	require.NoError(t, err)

	defer rd.Close()

	_, err = rd.Header()
	require.NoError(t, err)

	fields, _, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1", "0x60"}, fields)
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := record.Open(filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
