package main

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// WriteKind tells which branch of a WriteResult is set.
type WriteKind int

const (
	WriteSaved WriteKind = iota + 1
	WriteRejected
	WriteFailed
)

func (k WriteKind) String() string {
	switch k {
	case WriteSaved:
		return "saved"
	case WriteRejected:
		return "rejected"
	case WriteFailed:
		return "failed"
	}
	return "unknown"
}

// WriteResult is the outcome of a create or update call. Exactly one
// of the three cases applies: the saved book, the decoded validation
// failure sent back by the server, or any other failure.
type WriteResult struct {
	Book      Book
	Rejection *ValidationFailure
	Err       error
}

func Saved(book Book) WriteResult {
	return WriteResult{Book: book}
}

func Rejected(vf ValidationFailure) WriteResult {
	return WriteResult{Rejection: &vf}
}

func Failed(err error) WriteResult {
	return WriteResult{Err: err}
}

// Kind returns the case held by the result.
func (r WriteResult) Kind() WriteKind {
	switch {
	case r.Err != nil:
		return WriteFailed
	case r.Rejection != nil:
		return WriteRejected
	default:
		return WriteSaved
	}
}

type BookServiceProvider interface {
	TotalCount(ctx context.Context, search string) (int, error)
	List(ctx context.Context, req PageRequest) ([]Book, error)
	GetAll(ctx context.Context) ([]Book, error)
	Add(ctx context.Context, book Book) WriteResult
	Update(ctx context.Context, book Book) WriteResult
	Delete(ctx context.Context, book Book) error
	History(ctx context.Context, n int) ([]Entry, error)
}

type BookService struct {
	logger  *zap.Logger
	clock   Clocker
	ids     UIDHandler
	api     BooksAPI
	journal Journaler
}

func NewBookService(logger *zap.Logger, clock Clocker, ids UIDHandler, api BooksAPI, journal Journaler) BookServiceProvider {
	return &BookService{
		logger:  logger,
		clock:   clock,
		ids:     ids,
		api:     api,
		journal: journal,
	}
}

// TotalCount counts all books when search is blank, the matching ones otherwise.
func (bs *BookService) TotalCount(ctx context.Context, search string) (int, error) {
	if strings.TrimSpace(search) == "" {
		return bs.api.Count(ctx)
	}
	return bs.api.CountBySearch(ctx, search)
}

func (bs *BookService) List(ctx context.Context, req PageRequest) ([]Book, error) {
	return bs.api.ListPage(ctx, req)
}

func (bs *BookService) GetAll(ctx context.Context) ([]Book, error) {
	return bs.api.ListAll(ctx)
}

func (bs *BookService) Add(ctx context.Context, book Book) WriteResult {
	created, err := bs.api.Create(ctx, book)
	if err != nil {
		return bs.writeFailure(OpCreate, err)
	}
	bs.record(ctx, OpCreate, created)
	return Saved(created)
}

func (bs *BookService) Update(ctx context.Context, book Book) WriteResult {
	updated, err := bs.api.Update(ctx, book)
	if err != nil {
		return bs.writeFailure(OpUpdate, err)
	}
	bs.record(ctx, OpUpdate, updated)
	return Saved(updated)
}

func (bs *BookService) Delete(ctx context.Context, book Book) error {
	if !book.HasID() {
		return &PreconditionError{Operation: OpDelete, Err: ErrMissingBookID}
	}
	if err := bs.api.Delete(ctx, book.BookID()); err != nil {
		bs.logger.Error("service: failed to delete book", zap.Int64("book.id", book.BookID()), zap.Error(err))
		return err
	}
	bs.record(ctx, OpDelete, book)
	return nil
}

func (bs *BookService) History(ctx context.Context, n int) ([]Entry, error) {
	return bs.journal.Recent(ctx, n)
}

// writeFailure routes a 400 answer through the validation decoder.
func (bs *BookService) writeFailure(op string, err error) WriteResult {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		vf := DecodeValidationPayload(rejection.Payload)
		bs.logger.Info("service: book rejected by server", zap.String("op", op), zap.String("message", vf.Message))
		return Rejected(vf)
	}
	bs.logger.Error("service: failed to write book", zap.String("op", op), zap.Error(err))
	return Failed(err)
}

// record keeps a journal entry. A journal failure never fails the write itself.
func (bs *BookService) record(ctx context.Context, op string, book Book) {
	entry := Entry{
		ID:        bs.ids.Generate(JournalIDPrefix),
		Operation: op,
		BookID:    book.BookID(),
		Title:     book.Title,
		At:        bs.clock.Now(),
	}
	if err := bs.journal.Record(ctx, entry); err != nil {
		bs.logger.Error("service: failed to record journal entry", zap.String("op", op), zap.Error(err))
	}
}
