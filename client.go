package pomelo

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Client talks to a relay Server over WebSocket. Calls are synchronous and
// serialized: one request is in flight at a time per connection.
type Client struct {
	conn  *websocket.Conn
	table string

	// mu is shared across Table views of one connection.
	mu *sync.Mutex
}

// Dial connects to a relay at url, e.g. ws://127.0.0.1:8765/ws.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrStorageUnavailable, url, err)
	}
	return &Client{conn: conn, mu: &sync.Mutex{}}, nil
}

// Table returns a client view targeting another table over the same
// connection.
func (c *Client) Table(name string) *Client {
	return &Client{conn: c.conn, table: name, mu: c.mu}
}

// Close ends the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// do sends one request and waits for its response.
func (c *Client) do(req Request) (json.RawMessage, error) {
	req.Kwargs.Table = c.table

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var resp Response
	if err := c.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if resp.Error != "" {
		return nil, remoteError(resp.Error)
	}
	return resp.Result, nil
}

// remoteError maps an error message back onto the local sentinels where the
// message allows it, so errors.Is keeps working across the wire.
func remoteError(msg string) error {
	for _, sentinel := range []error{
		ErrNotFound, ErrCorruptStore, ErrUnsupportedType,
		ErrStorageUnavailable, ErrInvalidQuery,
	} {
		if prefix := sentinel.Error(); len(msg) >= len(prefix) && msg[:len(prefix)] == prefix {
			return fmt.Errorf("%w%s", sentinel, msg[len(prefix):])
		}
	}
	return errors.New(msg)
}

// marshalQuery serializes a query for transport; nil means match-all.
// Predicate queries are functions and stay local.
func marshalQuery(q *Query) (json.RawMessage, error) {
	if q == nil {
		q = MatchAll()
	}
	return q.MarshalJSON()
}

// Insert adds one record and returns its id.
func (c *Client) Insert(doc *Document) (int64, error) {
	enc, err := encodeDocument(doc)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(enc)
	if err != nil {
		return 0, err
	}
	raw, err := c.do(Request{Op: "insert", Data: data})
	if err != nil {
		return 0, err
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("%w: bad insert result: %v", ErrCorruptStore, err)
	}
	return id, nil
}

// InsertMany adds records in order and returns their ids.
func (c *Client) InsertMany(docs []*Document) ([]int64, error) {
	encs := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		enc, err := encodeDocument(doc)
		if err != nil {
			return nil, err
		}
		encs = append(encs, enc)
	}
	data, err := json.Marshal(encs)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(Request{Op: "insert_many", Data: data})
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: bad insert_many result: %v", ErrCorruptStore, err)
	}
	return ids, nil
}

// Search evaluates a query remotely and returns the matches.
func (c *Client) Search(q *Query) ([]*Document, error) {
	return c.SearchRate(q, 0)
}

// SearchRate is Search with a result bound.
func (c *Client) SearchRate(q *Query, rate int) ([]*Document, error) {
	data, err := marshalQuery(q)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(Request{Op: "search", Data: data, Kwargs: Kwargs{Rate: rate}})
	if err != nil {
		return nil, err
	}
	return decodeWireDocuments(raw)
}

// FindOne returns the first match, or nil when nothing matches.
func (c *Client) FindOne(q *Query) (*Document, error) {
	data, err := marshalQuery(q)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(Request{Op: "find_one", Data: data})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return decodeWireDocument(raw)
}

// Update merges patch into the first match; ErrNotFound when nothing
// matches.
func (c *Client) Update(q *Query, patch *Document) error {
	qdata, err := marshalQuery(q)
	if err != nil {
		return err
	}
	enc, err := encodeDocument(patch)
	if err != nil {
		return err
	}
	pdata, err := json.Marshal(enc)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]json.RawMessage{
		"query": qdata,
		"patch": pdata,
	})
	if err != nil {
		return err
	}
	_, err = c.do(Request{Op: "update", Data: body})
	return err
}

// Delete resolves the query remotely and removes the matches: all of them
// when removeAll is set, only the first otherwise. It returns the removed
// records.
func (c *Client) Delete(q *Query, removeAll bool) ([]*Document, error) {
	data, err := marshalQuery(q)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(Request{Op: "delete", Data: data, Kwargs: Kwargs{All: &removeAll}})
	if err != nil {
		return nil, err
	}
	return decodeWireDocuments(raw)
}

// Tables returns the sorted table names of the remote database.
func (c *Client) Tables() ([]string, error) {
	raw, err := c.do(Request{Op: "tables"})
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("%w: bad tables result: %v", ErrCorruptStore, err)
	}
	return names, nil
}

// Clear resets the remote database to its freshly initialized shape.
func (c *Client) Clear() error {
	_, err := c.do(Request{Op: "clear"})
	return err
}
