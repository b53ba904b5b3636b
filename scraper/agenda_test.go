package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agendaHTML = `<div class="agenda-wrapper">
<div class="agenda-day"><h3 class="agenda-date"><span class="screenreader-only">Tuesday, 25 November</span><span aria-hidden="true">Tue, 25 Nov</span></h3></div>
<div class="agenda-event__container"><ul>
  <li class="agenda-event__item"><i class="icon-assignment"></i>
    <span class="screenreader-only">Calendar C111   AUT25 Finance I</span>
    <div class="agenda-event__time">Due 16:00</div>
    <span class="agenda-event__title">Problem Set 3</span></li>
  <li class="agenda-event__item"><i class="icon-calendar-month"></i>
    <span class="screenreader-only">Calendar C120 AUT25 Strategy</span>
    <div class="agenda-event__time">Starts at 09:30</div>
    <span class="agenda-event__title">Guest lecture</span></li>
  <li class="agenda-event__item"><i class="icon-assignment"></i>
    <span class="screenreader-only">Calendar C111   AUT25 Finance I</span>
    <div class="agenda-event__time">Due 16:00</div>
    <span class="agenda-event__title">Problem Set 3</span></li>
</ul></div>
<div class="agenda-day"><h3 class="agenda-date"><span aria-hidden="true">Mon, 24 Nov</span></h3></div>
<div class="agenda-event__container"><ul>
  <li class="agenda-event__item"><i class="icon-quiz"></i>
    <span class="screenreader-only">Calendar C130 Accounting</span>
    <div class="agenda-event__time">Due 23:59</div>
    <span class="agenda-event__title">Quiz 2</span></li>
  <li class="agenda-event__item"><i class="icon-discussion"></i>
    <div class="agenda-event__time">10:00</div>
    <span class="agenda-event__title">Forum</span></li>
</ul></div>
<div class="agenda-day"><h3 class="agenda-date"><span aria-hidden="true">Fri, 19 Dec</span></h3></div>
<div class="agenda-event__container"><ul>
  <li class="agenda-event__item"><i class="icon-assignment"></i>
    <div class="agenda-event__time">Due 12:00</div>
    <span class="agenda-event__title">Too far</span></li>
</ul></div>
</div>`

func TestParseAgenda(t *testing.T) {
	now := time.Date(2025, 11, 24, 8, 0, 0, 0, time.UTC)
	assignments, events, err := ParseAgenda(agendaHTML, now, 14*24*time.Hour)
	require.NoError(t, err)

	require.Len(t, assignments, 2, "duplicate removed, out of window dropped")
	assert.Equal(t, "Quiz 2", assignments[0].Title)
	assert.Equal(t, TypeQuiz, assignments[0].Type)
	assert.Equal(t, "C130 Accounting", assignments[0].Course)
	assert.Equal(t, time.Date(2025, 11, 24, 23, 59, 0, 0, time.UTC), assignments[0].When)

	assert.Equal(t, "Problem Set 3", assignments[1].Title)
	assert.Equal(t, TypeAssignment, assignments[1].Type)
	assert.Equal(t, "C111 AUT25 Finance I", assignments[1].Course)
	assert.Equal(t, time.Date(2025, 11, 25, 16, 0, 0, 0, time.UTC), assignments[1].When)

	require.Len(t, events, 1)
	assert.Equal(t, "Guest lecture", events[0].Title)
	assert.Equal(t, TypeEvent, events[0].Type)
	assert.Equal(t, time.Date(2025, 11, 25, 9, 30, 0, 0, time.UTC), events[0].When)
}

func TestParseAgendaSkipsPast(t *testing.T) {
	now := time.Date(2025, 11, 25, 12, 0, 0, 0, time.UTC)
	assignments, events, err := ParseAgenda(agendaHTML, now, 14*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "Problem Set 3", assignments[0].Title)
	assert.Empty(t, events)
}

func TestParseAgendaEmpty(t *testing.T) {
	assignments, events, err := ParseAgenda(`<p>no agenda</p>`, time.Now(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, assignments)
	assert.Empty(t, events)
}

func TestAgendaTimeYearRollover(t *testing.T) {
	now := time.Date(2025, 12, 28, 9, 0, 0, 0, time.UTC)
	when, ok := agendaTime("Mon, 5 Jan", "10:00", now)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), when)

	_, ok = agendaTime("sometime", "10:00", now)
	assert.False(t, ok)
}

func TestItemKey(t *testing.T) {
	i := Item{Title: "PS3", Course: "Finance", When: time.Date(2025, 11, 25, 16, 0, 0, 0, time.UTC)}
	assert.Equal(t, "PS3|2025-11-25 16:00|Finance", i.Key())
}
