package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"board-mirror/domain"
	"board-mirror/fetch"
	"board-mirror/storage"
)

var (
	boardColor = color.New(color.FgCyan, color.Bold)
	listColor  = color.New(color.FgCyan)
	doneColor  = color.New(color.FgGreen)
	errColor   = color.New(color.FgRed)
	dimColor   = color.New(color.Faint)
)

func renderBoards(w io.Writer, snap *storage.Snapshot) {
	if len(snap.Boards) == 0 {
		dimColor.Fprintln(w, "no boards")
		return
	}
	for _, b := range snap.Boards {
		boardColor.Fprint(w, b.Name)
		dimColor.Fprintf(w, "  %s\n", b.ID)
	}
}

func renderBoard(w io.Writer, snap *storage.Snapshot, rep *fetch.Report) {
	board, ok := findBoard(snap, rep.BoardID)
	if !ok {
		errColor.Fprintf(w, "board %s: %s\n", rep.BoardID, scopeLine(snap.Scope(domain.BoardScope(rep.BoardID))))
		return
	}
	boardColor.Fprintln(w, board.Name)
	if st := snap.Scope(domain.BoardScope(board.ID)); st.Status == domain.StatusFailed {
		errColor.Fprintf(w, "  ! %s\n", st.Error)
	}
	for _, l := range snap.Lists(board.ID) {
		listColor.Fprintf(w, "  %s\n", l.Name)
		if st := snap.Scope(domain.ListScope(l.ID)); st.Status == domain.StatusFailed {
			errColor.Fprintf(w, "    ! %s\n", st.Error)
			continue
		}
		for _, c := range snap.Cards(l.ID) {
			fmt.Fprintf(w, "    - %s\n", c.Name)
			if st := snap.Scope(domain.CardScope(c.ID)); st.Status == domain.StatusFailed {
				errColor.Fprintf(w, "      ! %s\n", st.Error)
			}
			for _, cl := range snap.Checklists(c.ID) {
				fmt.Fprintf(w, "      %s ", cl.Name)
				pct := doneColor
				if cl.Completion < 100 {
					pct = dimColor
				}
				pct.Fprintf(w, "%d%%\n", cl.Completion)
				for _, it := range cl.Items {
					mark := "[ ]"
					if it.State == domain.StateComplete {
						mark = "[x]"
					}
					fmt.Fprintf(w, "        %s %s\n", mark, it.Name)
				}
			}
		}
	}
}

func findBoard(snap *storage.Snapshot, id string) (domain.Board, bool) {
	for _, b := range snap.Boards {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Board{}, false
}

func scopeLine(st domain.ScopeState) string {
	if st.Error != "" {
		return st.Error
	}
	return string(st.Status)
}
