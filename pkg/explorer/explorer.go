package explorer

import (
	"embed"
	"html/template"
	"net/http"
	"strings"
	"time"

	"example.com/lumen/pkg/journal"
	"example.com/lumen/pkg/tokens"
	"example.com/lumen/pkg/wallet"
	"go.uber.org/zap"
)

// Base is the path prefix the explorer is mounted under.
const Base = "/explorer/"

const historyLimit = 25

//go:embed templates/*.html
var templateFS embed.FS

// History is the journal read side the holder page uses.
type History interface {
	EventsFor(holder tokens.Holder, limit int) ([]journal.Entry, error)
}

// HolderRow is one line of the holders table.
type HolderRow struct {
	Address string
	Balance string
}

// IndexData is rendered by index.html.
type IndexData struct {
	Base        string
	Name        string
	Symbol      string
	TotalSupply string
	Holders     []HolderRow
}

// EventRow is one line of a holder's history.
type EventRow struct {
	Seq      uint64
	Kind     string
	From     string
	To       string
	Amount   string
	Recorded string
}

// HolderData is rendered by holder.html.
type HolderData struct {
	Base    string
	Address string
	Symbol  string
	Balance string
	Events  []EventRow
}

// Explorer renders read-only HTML views of a ledger.
type Explorer struct {
	Ledger    *tokens.Ledger
	History   History
	templates *template.Template
	logger    *zap.Logger
}

// NewExplorer initializes the explorer. history may be nil.
func NewExplorer(ledger *tokens.Ledger, history History, logger *zap.Logger) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Explorer{
		Ledger:    ledger,
		History:   history,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		logger:    logger,
	}
}

// Register mounts the explorer under Base.
func (e *Explorer) Register(mux *http.ServeMux) {
	mux.HandleFunc(Base, e.renderIndex)
	mux.HandleFunc(Base+"holder/", e.renderHolder)
}

// renderIndex renders token metadata and the holders table
func (e *Explorer) renderIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != Base {
		http.NotFound(w, r)
		return
	}

	meta := e.Ledger.Metadata()
	data := IndexData{
		Base:        Base,
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		TotalSupply: e.Ledger.Format(e.Ledger.TotalSupply()),
	}
	for _, b := range e.Ledger.Holders() {
		data.Holders = append(data.Holders, HolderRow{
			Address: b.Holder.Hex(),
			Balance: e.Ledger.Format(b.Amount),
		})
	}

	e.execute(w, "index.html", data)
}

// renderHolder renders the balance and history of a single holder
func (e *Explorer) renderHolder(w http.ResponseWriter, r *http.Request) {
	holder, err := wallet.ParseHolder(strings.TrimPrefix(r.URL.Path, Base+"holder/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := HolderData{
		Base:    Base,
		Address: holder.Hex(),
		Symbol:  e.Ledger.Metadata().Symbol,
		Balance: e.Ledger.Format(e.Ledger.BalanceOf(holder)),
	}

	if e.History != nil {
		entries, err := e.History.EventsFor(holder, historyLimit)
		if err != nil {
			e.logger.Error("journal read failed", zap.Stringer("holder", holder), zap.Error(err))
			http.Error(w, "Failed to read history", http.StatusInternalServerError)
			return
		}
		for _, entry := range entries {
			data.Events = append(data.Events, EventRow{
				Seq:      entry.Seq,
				Kind:     string(entry.Kind),
				From:     entry.From.Hex(),
				To:       entry.To.Hex(),
				Amount:   e.Ledger.Format(entry.Amount),
				Recorded: entry.Recorded.UTC().Format(time.RFC3339),
			})
		}
	}

	e.execute(w, "holder.html", data)
}

func (e *Explorer) execute(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := e.templates.ExecuteTemplate(w, name, data); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		e.logger.Error("template execution error", zap.String("template", name), zap.Error(err))
	}
}
