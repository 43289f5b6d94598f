// Package cursor implements the result cursor and row cache (C5):
// scrollable forward/backward iteration over a query result, backed by
// on-demand RESULT_SECTION block fetches and an LRU row cache shared
// across cursors on a connection.
package cursor

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"time"

	"github.com/ponysql/ponysql-go/lob"
	"github.com/ponysql/ponysql-go/ponyerr"
	"github.com/ponysql/ponysql-go/wire"
)

// DefaultFetchSize and MaxFetchSize bound the row count requested per
// block fetch.
const (
	DefaultFetchSize = 32
	MaxFetchSize     = 512
)

// inlineRowThreshold is the row-count ceiling under which a
// large-object-free result is eagerly downloaded and disposed on
// construction.
const inlineRowThreshold = 40

// Requester is the subset of the dispatch multiplexer a cursor needs.
type Requester interface {
	Send(cmd wire.Command, body []byte, timeout time.Duration) ([]byte, error)
}

// Cursor is a scrollable, read-only, single-writer result set. A single
// Cursor is not safe for concurrent use by multiple goroutines.
type Cursor struct {
	requester Requester
	cache     *RowCache
	timeout   time.Duration

	resultID      int32
	columns       []wire.ColumnDescription
	colIndex      map[string]int
	caseSensitive bool

	totalRowCount int32
	maxRows       int32
	fetchSize     int32

	currentIndex  int32
	blockTopRow   int32
	blockRowCount int32
	block         [][]wire.Value

	lastReadWasNull bool
	disposed        bool
	inlined         bool
}

// New builds a Cursor over header, consulting cache for rows already
// resident and eagerly inlining small large-object-free results.
// caseSensitive matches the case-insensitive-identifier flag read from
// SHOW CONNECTION_INFO during login. maxRows <= 0 means unbounded.
func New(requester Requester, cache *RowCache, timeout time.Duration, header wire.QueryResponseHeader, caseSensitive bool, maxRows int32) (*Cursor, error) {
	c := &Cursor{
		requester:     requester,
		cache:         cache,
		timeout:       timeout,
		resultID:      header.ResultID,
		columns:       header.Columns,
		caseSensitive: caseSensitive,
		totalRowCount: header.RowCount,
		maxRows:       maxRows,
		fetchSize:     DefaultFetchSize,
		currentIndex:  -1,
	}
	if c.totalRowCount <= inlineRowThreshold && !c.hasLargeObjectColumn() {
		if err := c.inlineAll(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cursor) hasLargeObjectColumn() bool {
	for _, col := range c.columns {
		if col.IsLargeObject() {
			return true
		}
	}
	return false
}

func (c *Cursor) effectiveRowCount() int32 {
	if c.maxRows > 0 && c.maxRows < c.totalRowCount {
		return c.maxRows
	}
	return c.totalRowCount
}

// SetFetchSize overrides the block-fetch row count for subsequent
// fetches.
func (c *Cursor) SetFetchSize(n int32) error {
	if n <= 0 || n > MaxFetchSize {
		return ponyerr.NewProtocolError("fetch size %d out of range [1,%d]", n, MaxFetchSize)
	}
	c.fetchSize = n
	return nil
}

// Columns returns the result's immutable column list.
func (c *Cursor) Columns() []wire.ColumnDescription { return c.columns }

// --- Positioning operations ---

// Next advances one row, returning false once past the last row.
func (c *Cursor) Next() (bool, error) {
	return c.Relative(1)
}

// Previous moves back one row, returning false once before the first
// row.
func (c *Cursor) Previous() (bool, error) {
	return c.Relative(-1)
}

// First moves to the first row, or returns false if the result is
// empty.
func (c *Cursor) First() (bool, error) {
	return c.Absolute(1)
}

// Last moves to the last row, or returns false if the result is empty.
func (c *Cursor) Last() (bool, error) {
	return c.Absolute(-1)
}

// BeforeFirst positions the cursor before the first row.
func (c *Cursor) BeforeFirst() {
	c.currentIndex = -1
}

// AfterLast positions the cursor after the last row.
func (c *Cursor) AfterLast() {
	c.currentIndex = c.effectiveRowCount()
}

// Absolute positions at a 1-based row number; n > 0 counts from the
// start, n < 0 counts back from the end (-1 is the last row); n == 0
// is BeforeFirst.
func (c *Cursor) Absolute(n int32) (bool, error) {
	count := c.effectiveRowCount()
	var target int32
	switch {
	case n > 0:
		target = n - 1
	case n < 0:
		target = count + n
	default:
		c.BeforeFirst()
		return false, nil
	}
	if target < 0 {
		c.BeforeFirst()
		return false, nil
	}
	if target >= count {
		c.AfterLast()
		return false, nil
	}
	c.currentIndex = target
	return true, nil
}

// Relative moves d rows from the current position, saturating at
// [-1, effectiveRowCount].
func (c *Cursor) Relative(d int32) (bool, error) {
	count := c.effectiveRowCount()
	target := c.currentIndex + d
	if target < -1 {
		target = -1
	}
	if target > count {
		target = count
	}
	c.currentIndex = target
	return target >= 0 && target < count, nil
}

// IsBeforeFirst reports whether the cursor is positioned before the
// first row.
func (c *Cursor) IsBeforeFirst() bool { return c.currentIndex < 0 }

// IsAfterLast reports whether the cursor is positioned after the last
// row.
func (c *Cursor) IsAfterLast() bool { return c.currentIndex >= c.effectiveRowCount() }

// IsFirst reports whether the cursor is on the first row.
func (c *Cursor) IsFirst() bool { return c.currentIndex == 0 && c.effectiveRowCount() > 0 }

// IsLast reports whether the cursor is on the last row.
func (c *Cursor) IsLast() bool {
	count := c.effectiveRowCount()
	return count > 0 && c.currentIndex == count-1
}

// GetRow returns the 1-based current row number, or 0 when the cursor
// is not positioned on a row.
func (c *Cursor) GetRow() int32 {
	if c.IsBeforeFirst() || c.IsAfterLast() {
		return 0
	}
	return c.currentIndex + 1
}

// WasNull reports whether the most recently read cell was NULL.
func (c *Cursor) WasNull() bool { return c.lastReadWasNull }

// --- Block fetch discipline ---

func (c *Cursor) ensureBlock() error {
	target := c.currentIndex
	if target < 0 || target >= c.effectiveRowCount() {
		return ponyerr.NewOutOfRangeError("cursor is not positioned on a row")
	}
	if c.blockRowCount > 0 && target >= c.blockTopRow && target < c.blockTopRow+c.blockRowCount {
		return nil
	}
	return c.fetchBlock(target)
}

func (c *Cursor) fetchBlock(target int32) error {
	start, count := c.computeWindow(target)
	if count <= 0 {
		c.blockTopRow = start
		c.blockRowCount = 0
		c.block = nil
		return nil
	}

	rows := make([][]wire.Value, count)

	prefix := int32(0)
	for prefix < count {
		row, ok := c.cache.Get(c.resultID, start+prefix)
		if !ok {
			break
		}
		rows[prefix] = row
		prefix++
	}
	if prefix == count {
		c.installBlock(start, rows)
		return nil
	}

	suffix := count - 1
	for suffix >= prefix {
		row, ok := c.cache.Get(c.resultID, start+suffix)
		if !ok {
			break
		}
		rows[suffix] = row
		suffix--
	}

	holeStart := start + prefix
	holeCount := suffix - prefix + 1
	fetched, err := c.requestSection(holeStart, holeCount)
	if err != nil {
		return err
	}
	for i, row := range fetched {
		idx := prefix + int32(i)
		rows[idx] = row
		c.cache.Put(c.resultID, start+idx, row)
	}

	c.installBlock(start, rows)
	return nil
}

// computeWindow implements the "backward scan window shift" rule:
// when target lies before the current block, the window is shifted
// left so the new block ends min(fetchSize, 8) rows past target:
// target sits that many rows above the block's bottom, leaving most of
// the block for further backward moves.
func (c *Cursor) computeWindow(target int32) (start, count int32) {
	count = c.fetchSize
	if c.blockRowCount > 0 && target < c.blockTopRow {
		shift := count
		if shift > 8 {
			shift = 8
		}
		start = target - c.fetchSize + shift
		if start < 0 {
			start = 0
		}
	} else {
		start = target
	}
	if remaining := c.effectiveRowCount() - start; count > remaining {
		count = remaining
	}
	return start, count
}

func (c *Cursor) installBlock(start int32, rows [][]wire.Value) {
	c.blockTopRow = start
	c.blockRowCount = int32(len(rows))
	c.block = rows
}

func (c *Cursor) requestSection(start, count int32) ([][]wire.Value, error) {
	if count <= 0 {
		return nil, nil
	}
	body := make([]byte, 0, 12)
	body = appendInt32(body, c.resultID)
	body = appendInt32(body, start)
	body = appendInt32(body, count)

	resp, err := c.requester.Send(wire.CmdResultSection, body, c.timeout)
	if err != nil {
		return nil, err
	}
	return decodeResultSection(resp, count)
}

func decodeResultSection(resp []byte, rowCount int32) ([][]wire.Value, error) {
	r := bytes.NewReader(resp)
	var status int32
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return nil, ponyerr.NewProtocolError("result section response truncated")
	}
	if wire.Status(status) == wire.StatusException {
		return nil, decodeServerError(r)
	}

	var columnCount int32
	if err := binary.Read(r, binary.BigEndian, &columnCount); err != nil {
		return nil, ponyerr.NewProtocolError("result section missing column count")
	}
	rows := make([][]wire.Value, rowCount)
	for i := range rows {
		row := make([]wire.Value, columnCount)
		for j := range row {
			v, err := wire.DecodeValue(r)
			if err != nil {
				return nil, err
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows, nil
}

func decodeServerError(r io.Reader) error {
	var vendorCode int32
	if err := binary.Read(r, binary.BigEndian, &vendorCode); err != nil {
		return ponyerr.NewProtocolError("exception body missing vendor code")
	}
	message, err := wire.ReadUTF(r)
	if err != nil {
		return err
	}
	stack, err := wire.ReadUTF(r)
	if err != nil {
		return err
	}
	return &ponyerr.ServerError{VendorCode: vendorCode, Message: message, Stack: stack}
}

// --- Small-result inlining / disposal ---

func (c *Cursor) inlineAll() error {
	if c.totalRowCount > 0 {
		rows, err := c.requestSection(0, c.totalRowCount)
		if err != nil {
			return err
		}
		c.block = rows
		c.blockTopRow = 0
		c.blockRowCount = c.totalRowCount
	}
	if err := c.disposeResult(); err != nil {
		return err
	}
	c.inlined = true
	return nil
}

func (c *Cursor) disposeResult() error {
	if c.disposed {
		return nil
	}
	resp, err := c.requester.Send(wire.CmdDisposeResult, appendInt32(nil, c.resultID), c.timeout)
	if err != nil {
		return err
	}
	if len(resp) < 4 {
		return ponyerr.NewProtocolError("dispose result response too short")
	}
	status := wire.Status(readInt32(resp[:4]))
	if wire.StatusFailed(status) {
		return ponyerr.NewProtocolError("dispose result failed with status %d", status)
	}
	c.disposed = true
	return nil
}

// Close releases the server-side result handle, unless it was already
// released by small-result inlining. Safe to call more than once.
func (c *Cursor) Close() error {
	if c.disposed {
		return nil
	}
	err := c.disposeResult()
	c.cache.InvalidateResult(c.resultID)
	return err
}

func appendInt32(dst []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(dst, uint32(v)) //nolint:gosec // result/row counts are bounded well under 2^31
}

func readInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b)) //nolint:gosec // inverse of appendInt32
}

// --- Column name lookup ---

func (c *Cursor) ensureColumnIndex() {
	if c.colIndex != nil {
		return
	}
	c.colIndex = make(map[string]int, len(c.columns))
	for i, col := range c.columns {
		key := normalizeColumnName(col.Name)
		if !c.caseSensitive {
			key = strings.ToLower(key)
		}
		c.colIndex[key] = i
	}
}

// normalizeColumnName strips a leading two-character role prefix
// ("@a" = alias, "@f" = fully-qualified) and one layer of surrounding
// quotes.
func normalizeColumnName(name string) string {
	if len(name) >= 2 && name[0] == '@' && (name[1] == 'a' || name[1] == 'f') {
		name = name[2:]
	}
	if len(name) >= 2 {
		first, last := name[0], name[len(name)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			name = name[1 : len(name)-1]
		}
	}
	return name
}

func (c *Cursor) columnIndex(name string) (int, error) {
	c.ensureColumnIndex()
	key := name
	if !c.caseSensitive {
		key = strings.ToLower(key)
	}
	if idx, ok := c.colIndex[key]; ok {
		return idx, nil
	}
	suffix := "." + key
	for k, idx := range c.colIndex {
		if strings.HasSuffix(k, suffix) {
			return idx, nil
		}
	}
	return 0, &ponyerr.ColumnNotFoundError{Name: name}
}

func (c *Cursor) cell(name string) (wire.Value, error) {
	idx, err := c.columnIndex(name)
	if err != nil {
		return wire.Value{}, err
	}
	return c.cellAt(idx)
}

func (c *Cursor) cellAt(idx int) (wire.Value, error) {
	if err := c.ensureBlock(); err != nil {
		return wire.Value{}, err
	}
	row := c.block[c.currentIndex-c.blockTopRow]
	if idx < 0 || idx >= len(row) {
		return wire.Value{}, ponyerr.NewOutOfRangeError("column index %d", idx)
	}
	v := row[idx]
	c.lastReadWasNull = v.IsNull()
	return v, nil
}

// --- Type projection getters ---

func valueToDecimal(name string, v wire.Value) (wire.Decimal, error) {
	if d, ok := v.AsDecimal(); ok {
		return d, nil
	}
	return wire.Decimal{}, &ponyerr.TypeMismatchError{Column: name, Want: "numeric", Have: v.TypeName()}
}

func valueToString(name string, v wire.Value) (string, error) {
	switch v.Tag {
	case wire.TagLongString, wire.TagShortString:
		return v.Str, nil
	case wire.TagInt, wire.TagLong, wire.TagDecimal, wire.TagLegacyDecimal:
		d, _ := v.AsDecimal()
		return d.String(), nil
	case wire.TagBoolean:
		if v.Bool {
			return "true", nil
		}
		return "false", nil
	case wire.TagTimestamp:
		return v.Time.UTC().Format(time.RFC3339Nano), nil
	}
	return "", &ponyerr.TypeMismatchError{Column: name, Want: "string", Have: v.TypeName()}
}

// GetString projects the named cell to its canonical textual form.
func (c *Cursor) GetString(name string) (string, error) {
	v, err := c.cell(name)
	if err != nil {
		return "", err
	}
	if v.IsNull() {
		return "", nil
	}
	return valueToString(name, v)
}

// GetInt projects the named cell to an int32, narrowing via the
// canonical decimal representation.
func (c *Cursor) GetInt(name string) (int32, error) {
	v, err := c.cell(name)
	if err != nil {
		return 0, err
	}
	if v.IsNull() {
		return 0, nil
	}
	d, err := valueToDecimal(name, v)
	if err != nil {
		return 0, err
	}
	return d.Int32(), nil
}

// GetLong projects the named cell to an int64.
func (c *Cursor) GetLong(name string) (int64, error) {
	v, err := c.cell(name)
	if err != nil {
		return 0, err
	}
	if v.IsNull() {
		return 0, nil
	}
	d, err := valueToDecimal(name, v)
	if err != nil {
		return 0, err
	}
	return d.Int64(), nil
}

// GetFloat projects the named cell to a float32.
func (c *Cursor) GetFloat(name string) (float32, error) {
	v, err := c.GetDouble(name)
	return float32(v), err
}

// GetDouble projects the named cell to a float64.
func (c *Cursor) GetDouble(name string) (float64, error) {
	v, err := c.cell(name)
	if err != nil {
		return 0, err
	}
	if v.IsNull() {
		return 0, nil
	}
	d, err := valueToDecimal(name, v)
	if err != nil {
		return 0, err
	}
	return d.Float64(), nil
}

// GetDecimal projects the named cell to its canonical decimal
// representation.
func (c *Cursor) GetDecimal(name string) (wire.Decimal, error) {
	v, err := c.cell(name)
	if err != nil {
		return wire.Decimal{}, err
	}
	if v.IsNull() {
		return wire.Decimal{}, nil
	}
	return valueToDecimal(name, v)
}

// GetBoolean projects the named cell to a bool.
func (c *Cursor) GetBoolean(name string) (bool, error) {
	v, err := c.cell(name)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	switch v.Tag {
	case wire.TagBoolean:
		return v.Bool, nil
	case wire.TagLongString, wire.TagShortString:
		return strings.EqualFold(v.Str, "true"), nil
	}
	return false, &ponyerr.TypeMismatchError{Column: name, Want: "boolean", Have: v.TypeName()}
}

// GetBytes projects the named cell to inline binary.
func (c *Cursor) GetBytes(name string) ([]byte, error) {
	v, err := c.cell(name)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nil
	}
	if v.Tag == wire.TagBinary {
		return v.Bytes, nil
	}
	return nil, &ponyerr.TypeMismatchError{Column: name, Want: "binary", Have: v.TypeName()}
}

// GetTimestamp projects the named cell to a time.Time. The reference
// collapses date/time/timestamp into one millisecond epoch, so GetDate and
// GetTime are aliases of GetTimestamp.
func (c *Cursor) GetTimestamp(name string) (time.Time, error) {
	v, err := c.cell(name)
	if err != nil {
		return time.Time{}, err
	}
	if v.IsNull() {
		return time.Time{}, nil
	}
	if v.Tag == wire.TagTimestamp {
		return v.Time, nil
	}
	return time.Time{}, &ponyerr.TypeMismatchError{Column: name, Want: "timestamp", Have: v.TypeName()}
}

// GetDate is an alias of GetTimestamp.
func (c *Cursor) GetDate(name string) (time.Time, error) { return c.GetTimestamp(name) }

// GetTime is an alias of GetTimestamp.
func (c *Cursor) GetTime(name string) (time.Time, error) { return c.GetTimestamp(name) }

// GetBinaryStream projects the named cell to a lazily-paged byte
// reader; inline binary cells are wrapped as-is.
func (c *Cursor) GetBinaryStream(name string) (io.Reader, error) {
	v, err := c.cell(name)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nil
	}
	switch v.Tag {
	case wire.TagBinary:
		return bytes.NewReader(v.Bytes), nil
	case wire.TagStreamable:
		if v.Streamable.Kind == wire.StreamableBinary {
			return lob.NewReader(c.requester, c.resultID, v.Streamable, c.timeout), nil
		}
	}
	return nil, &ponyerr.TypeMismatchError{Column: name, Want: "binary", Have: v.TypeName()}
}

// GetCharacterStream projects the named cell to a decoded rune
// reader; inline strings are wrapped as-is.
func (c *Cursor) GetCharacterStream(name string) (io.Reader, error) {
	v, err := c.cell(name)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nil
	}
	switch v.Tag {
	case wire.TagLongString, wire.TagShortString:
		return strings.NewReader(v.Str), nil
	case wire.TagStreamable:
		if v.Streamable.Kind == wire.StreamableChar {
			return lob.NewCharReader(lob.NewReader(c.requester, c.resultID, v.Streamable, c.timeout)), nil
		}
	}
	return nil, &ponyerr.TypeMismatchError{Column: name, Want: "char-stream", Have: v.TypeName()}
}

// GetBlob is an alias of GetBinaryStream.
func (c *Cursor) GetBlob(name string) (io.Reader, error) { return c.GetBinaryStream(name) }

// GetClob is an alias of GetCharacterStream.
func (c *Cursor) GetClob(name string) (io.Reader, error) { return c.GetCharacterStream(name) }

// GetObject projects the named cell to its most natural Go
// representation without an explicit target type.
func (c *Cursor) GetObject(name string) (any, error) {
	v, err := c.cell(name)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nil
	}
	switch v.Tag {
	case wire.TagInt:
		return v.Int32Val, nil
	case wire.TagLong:
		return v.Int64Val, nil
	case wire.TagDecimal, wire.TagLegacyDecimal:
		return v.Decimal, nil
	case wire.TagBoolean:
		return v.Bool, nil
	case wire.TagTimestamp:
		return v.Time, nil
	case wire.TagLongString, wire.TagShortString:
		return v.Str, nil
	case wire.TagBinary:
		return v.Bytes, nil
	case wire.TagStreamable:
		if v.Streamable.Kind == wire.StreamableChar {
			return c.GetCharacterStream(name)
		}
		return c.GetBinaryStream(name)
	}
	return nil, nil
}
