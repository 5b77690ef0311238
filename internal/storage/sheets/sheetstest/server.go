// Package sheetstest serves the subset of the Sheets v4 REST API used by the
// sheets backend from memory, for tests.
package sheetstest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/api/option"
)

// Request kinds passed to hooks and counted by Calls.
const (
	KindGetSpreadsheet    = "spreadsheets.get"
	KindBatchUpdate       = "spreadsheets.batchUpdate"
	KindValuesGet         = "values.get"
	KindValuesUpdate      = "values.update"
	KindValuesAppend      = "values.append"
	KindValuesBatchUpdate = "values.batchUpdate"
)

type worksheet struct {
	id    int64
	title string
	rows  [][]string
}

type spreadsheet struct {
	sheets []*worksheet
	nextID int64
}

// Server is an in-memory Sheets API.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	books      map[string]*spreadsheet
	calls      map[string]int
	failStatus int
	before     func(kind string)
	after      func(kind string)
}

// NewServer starts a server holding the given spreadsheets, each with a
// default "Sheet1" worksheet of id 0.
func NewServer(spreadsheetIDs ...string) *Server {
	s := &Server{
		books: make(map[string]*spreadsheet),
		calls: make(map[string]int),
	}
	for _, id := range spreadsheetIDs {
		s.books[id] = &spreadsheet{
			sheets: []*worksheet{{id: 0, title: "Sheet1"}},
			nextID: 1,
		}
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// ClientOptions point a Sheets client at the server without credentials.
func (s *Server) ClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(s.URL + "/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(s.Client()),
	}
}

// Fail makes every request answer with status; zero restores normal service.
func (s *Server) Fail(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// Hooks installs callbacks run before and after each request is served.
func (s *Server) Hooks(before, after func(kind string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before, s.after = before, after
}

// Calls returns how many requests of kind were served.
func (s *Server) Calls(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

// Rows returns a copy of a worksheet's cells, header included.
func (s *Server) Rows(spreadsheetID, title string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.sheet(spreadsheetID, title)
	if ws == nil {
		return nil
	}
	out := make([][]string, len(ws.rows))
	for i, r := range ws.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// SetRows replaces a worksheet's cells, creating the worksheet if needed.
func (s *Server) SetRows(spreadsheetID, title string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	book := s.books[spreadsheetID]
	if book == nil {
		return
	}
	ws := s.sheet(spreadsheetID, title)
	if ws == nil {
		ws = &worksheet{id: book.nextID, title: title}
		book.nextID++
		book.sheets = append(book.sheets, ws)
	}
	ws.rows = make([][]string, len(rows))
	for i, r := range rows {
		ws.rows[i] = append([]string(nil), r...)
	}
}

func (s *Server) sheet(spreadsheetID, title string) *worksheet {
	book := s.books[spreadsheetID]
	if book == nil {
		return nil
	}
	for _, ws := range book.sheets {
		if ws.title == title {
			return ws
		}
	}
	return nil
}

func (s *Server) hooks() (func(string), func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.before, s.after
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/v4/spreadsheets/")
	if !ok {
		writeError(w, http.StatusNotFound, "unknown path "+r.URL.Path)
		return
	}

	var id, kind, rng string
	if i := strings.Index(rest, "/values"); i >= 0 {
		id = rest[:i]
		tail := rest[i+len("/values"):]
		switch {
		case tail == ":batchUpdate" && r.Method == http.MethodPost:
			kind = KindValuesBatchUpdate
		case strings.HasPrefix(tail, "/") && strings.HasSuffix(tail, ":append") && r.Method == http.MethodPost:
			kind, rng = KindValuesAppend, strings.TrimSuffix(tail[1:], ":append")
		case strings.HasPrefix(tail, "/") && r.Method == http.MethodPut:
			kind, rng = KindValuesUpdate, tail[1:]
		case strings.HasPrefix(tail, "/") && r.Method == http.MethodGet:
			kind, rng = KindValuesGet, tail[1:]
		}
	} else if strings.HasSuffix(rest, ":batchUpdate") && r.Method == http.MethodPost {
		id, kind = strings.TrimSuffix(rest, ":batchUpdate"), KindBatchUpdate
	} else if r.Method == http.MethodGet {
		id, kind = rest, KindGetSpreadsheet
	}
	if kind == "" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unsupported %s %s", r.Method, r.URL.Path))
		return
	}

	before, after := s.hooks()
	if before != nil {
		before(kind)
	}
	s.handle(w, r, id, kind, rng)
	if after != nil {
		after(kind)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request, id, kind, rng string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failStatus != 0 {
		writeError(w, s.failStatus, "injected failure")
		return
	}
	book := s.books[id]
	if book == nil {
		writeError(w, http.StatusNotFound, "Requested entity was not found.")
		return
	}
	s.calls[kind]++

	switch kind {
	case KindGetSpreadsheet:
		sheets := make([]map[string]any, 0, len(book.sheets))
		for _, ws := range book.sheets {
			sheets = append(sheets, map[string]any{
				"properties": map[string]any{"sheetId": ws.id, "title": ws.title},
			})
		}
		writeJSON(w, map[string]any{"spreadsheetId": id, "sheets": sheets})

	case KindBatchUpdate:
		var req struct {
			Requests []struct {
				AddSheet *struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
				DeleteDimension *struct {
					Range struct {
						SheetID    int64  `json:"sheetId"`
						Dimension  string `json:"dimension"`
						StartIndex int    `json:"startIndex"`
						EndIndex   int    `json:"endIndex"`
					} `json:"range"`
				} `json:"deleteDimension"`
			} `json:"requests"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var replies []map[string]any
		for _, q := range req.Requests {
			switch {
			case q.AddSheet != nil:
				ws := &worksheet{id: book.nextID, title: q.AddSheet.Properties.Title}
				book.nextID++
				book.sheets = append(book.sheets, ws)
				replies = append(replies, map[string]any{
					"addSheet": map[string]any{
						"properties": map[string]any{"sheetId": ws.id, "title": ws.title},
					},
				})
			case q.DeleteDimension != nil:
				dr := q.DeleteDimension.Range
				ws := book.byID(dr.SheetID)
				if ws == nil || dr.Dimension != "ROWS" || dr.StartIndex < 0 || dr.EndIndex > len(ws.rows) || dr.StartIndex >= dr.EndIndex {
					writeError(w, http.StatusBadRequest, "invalid deleteDimension range")
					return
				}
				ws.rows = append(ws.rows[:dr.StartIndex], ws.rows[dr.EndIndex:]...)
				replies = append(replies, map[string]any{})
			}
		}
		writeJSON(w, map[string]any{"spreadsheetId": id, "replies": replies})

	case KindValuesGet:
		ws, a, err := book.resolve(rng)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp := map[string]any{"range": rng, "majorDimension": "ROWS"}
		if values := a.read(ws.rows); len(values) > 0 {
			resp["values"] = values
		}
		writeJSON(w, resp)

	case KindValuesUpdate, KindValuesAppend:
		ws, a, err := book.resolve(rng)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var body struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if kind == KindValuesAppend {
			a.row = lastUsedRow(ws.rows) + 1
		}
		ws.write(a.row, a.col, body.Values)
		writeJSON(w, map[string]any{"spreadsheetId": id})

	case KindValuesBatchUpdate:
		var body struct {
			Data []struct {
				Range  string  `json:"range"`
				Values [][]any `json:"values"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for _, d := range body.Data {
			ws, a, err := book.resolve(d.Range)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			ws.write(a.row, a.col, d.Values)
		}
		writeJSON(w, map[string]any{"spreadsheetId": id, "totalUpdatedCells": len(body.Data)})
	}
}

func (b *spreadsheet) byID(id int64) *worksheet {
	for _, ws := range b.sheets {
		if ws.id == id {
			return ws
		}
	}
	return nil
}

// area is a parsed A1 range with 0-based coordinates. Negative bounds are open.
type area struct {
	row, col       int
	endRow, endCol int
}

func (b *spreadsheet) resolve(rng string) (*worksheet, area, error) {
	i := strings.LastIndex(rng, "!")
	if i < 0 {
		return nil, area{}, fmt.Errorf("range %q has no sheet", rng)
	}
	title := rng[:i]
	if strings.HasPrefix(title, "'") && strings.HasSuffix(title, "'") && len(title) >= 2 {
		title = strings.ReplaceAll(title[1:len(title)-1], "''", "'")
	}
	var ws *worksheet
	for _, candidate := range b.sheets {
		if candidate.title == title {
			ws = candidate
		}
	}
	if ws == nil {
		return nil, area{}, fmt.Errorf("unable to parse range: %s", rng)
	}

	start, end, hasEnd := strings.Cut(rng[i+1:], ":")
	a := area{endRow: -1, endCol: -1}
	var err error
	if a.col, a.row, err = parseCell(start); err != nil {
		return nil, area{}, err
	}
	if a.row < 0 {
		a.row = 0
	}
	if hasEnd {
		if a.endCol, a.endRow, err = parseCell(end); err != nil {
			return nil, area{}, err
		}
	} else {
		a.endCol, a.endRow = a.col, a.row
	}
	return ws, a, nil
}

// parseCell reads "B5", "G" or "7" into 0-based column and row, -1 when absent.
func parseCell(ref string) (col, row int, err error) {
	col, row = -1, -1
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		if col < 0 {
			col = 0
		}
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if col > 0 {
		col--
	}
	if i < len(ref) {
		n, convErr := strconv.Atoi(ref[i:])
		if convErr != nil || n < 1 {
			return 0, 0, fmt.Errorf("bad cell reference %q", ref)
		}
		row = n - 1
	}
	if col < 0 && row < 0 {
		return 0, 0, fmt.Errorf("bad cell reference %q", ref)
	}
	return col, row, nil
}

// read returns the cells inside a, trimming trailing empty cells and rows
// the way the real API does.
func (a area) read(rows [][]string) [][]any {
	var out [][]any
	lastNonEmpty := -1
	for r := a.row; r < len(rows) && (a.endRow < 0 || r <= a.endRow); r++ {
		src := rows[r]
		startCol := max(a.col, 0)
		var cells []any
		last := -1
		for c := startCol; c < len(src) && (a.endCol < 0 || c <= a.endCol); c++ {
			cells = append(cells, src[c])
			if src[c] != "" {
				last = len(cells) - 1
			}
		}
		cells = cells[:last+1]
		out = append(out, cells)
		if len(cells) > 0 {
			lastNonEmpty = len(out) - 1
		}
	}
	return out[:lastNonEmpty+1]
}

func (ws *worksheet) write(row, col int, values [][]any) {
	if col < 0 {
		col = 0
	}
	for i, vals := range values {
		r := row + i
		for len(ws.rows) <= r {
			ws.rows = append(ws.rows, nil)
		}
		for j, v := range vals {
			c := col + j
			for len(ws.rows[r]) <= c {
				ws.rows[r] = append(ws.rows[r], "")
			}
			ws.rows[r][c] = fmt.Sprint(v)
		}
	}
}

func lastUsedRow(rows [][]string) int {
	for r := len(rows) - 1; r >= 0; r-- {
		for _, c := range rows[r] {
			if c != "" {
				return r
			}
		}
	}
	return -1
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": msg, "status": http.StatusText(status)},
	})
}
