// Package integration exercises a running bookhive instance end to end.
// Point BOOKHIVE_TEST_URL at a server backed by a migrated Postgres; the
// suite is skipped when the variable is unset so unit runs stay hermetic.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookhive/internal/inventory"
	"bookhive/internal/member"
)

func baseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("BOOKHIVE_TEST_URL")
	if url == "" {
		t.Skip("BOOKHIVE_TEST_URL not set; skipping integration suite")
	}
	return url
}

func postJSON(t *testing.T, url string, req any, wantStatus int, out any) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func getBook(t *testing.T, base string, id string) inventory.Book {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/circulation/books/%s", base, id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var book inventory.Book
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&book))
	return book
}

func registerMember(t *testing.T, base, email string) member.Member {
	t.Helper()
	var m member.Member
	postJSON(t, base+"/members/register",
		map[string]string{"email": email, "name": "Test Member", "password": "SecurePass123!"},
		http.StatusCreated, &m)
	return m
}

func addBook(t *testing.T, base, title string, copies int) inventory.Book {
	t.Helper()
	var book inventory.Book
	postJSON(t, base+"/circulation/books",
		map[string]any{"isbn": "9780141439518", "title": title, "author": "Jane Austen", "copies": copies},
		http.StatusCreated, &book)
	return book
}

func TestBorrowReturnFlow(t *testing.T) {
	base := baseURL(t)

	m := registerMember(t, base, fmt.Sprintf("flow-%d@example.com", os.Getpid()))
	book := addBook(t, base, "Pride and Prejudice", 5)

	var borrowed struct {
		LoanID string `json:"loan_id"`
	}
	postJSON(t, base+"/circulation/borrow",
		map[string]string{"member_id": m.ID.String(), "book_id": book.ID.String()},
		http.StatusCreated, &borrowed)
	require.NotEmpty(t, borrowed.LoanID)

	assert.Equal(t, 4, getBook(t, base, book.ID.String()).Available)

	postJSON(t, base+"/circulation/return",
		map[string]string{"loan_id": borrowed.LoanID, "book_id": book.ID.String()},
		http.StatusOK, nil)

	assert.Equal(t, 5, getBook(t, base, book.ID.String()).Available)
}

func TestRatingUpsertKeepsSingleRowWithLatestValue(t *testing.T) {
	base := baseURL(t)

	m := registerMember(t, base, fmt.Sprintf("rater-%d@example.com", os.Getpid()))
	book := addBook(t, base, "Emma", 1)

	var outcome struct {
		Outcome string `json:"outcome"`
	}
	postJSON(t, base+"/ledger/rate",
		map[string]any{"member_id": m.ID.String(), "book_id": book.ID.String(), "value": 4},
		http.StatusOK, &outcome)
	assert.Equal(t, "created", outcome.Outcome)

	postJSON(t, base+"/ledger/rate",
		map[string]any{"member_id": m.ID.String(), "book_id": book.ID.String(), "value": 5},
		http.StatusOK, &outcome)
	assert.Equal(t, "updated", outcome.Outcome)

	resp, err := http.Get(base + "/ledger/top?limit=1000")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var top []struct {
		BookID      string  `json:"book_id"`
		AvgRating   float64 `json:"avg_rating"`
		RatingCount int     `json:"rating_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&top))

	found := false
	for _, entry := range top {
		if entry.BookID != book.ID.String() {
			continue
		}
		found = true
		// One row, holding the latest value.
		assert.Equal(t, 1, entry.RatingCount)
		assert.InDelta(t, 5.0, entry.AvgRating, 0.001)
	}
	assert.True(t, found, "rated book missing from top-rated view")
}

func TestConcurrentBorrowNeverOversellsTheLastCopy(t *testing.T) {
	base := baseURL(t)

	book := addBook(t, base, "The Great Gatsby", 1)

	var members []member.Member
	for i := 0; i < 10; i++ {
		members = append(members, registerMember(t, base,
			fmt.Sprintf("race-%d-%d@example.com", os.Getpid(), i)))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for _, m := range members {
		wg.Add(1)
		go func(m member.Member) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]string{
				"member_id": m.ID.String(), "book_id": book.ID.String(),
			})
			resp, err := http.Post(base+"/circulation/borrow", "application/json", bytes.NewReader(body))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	assert.Equal(t, 1, granted, "exactly one concurrent borrow should win the last copy")
	assert.Equal(t, 0, getBook(t, base, book.ID.String()).Available)
}
