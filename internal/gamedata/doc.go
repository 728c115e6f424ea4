// Package gamedata fetches live event cycles from the upstream game API and
// caches them briefly. "No cycle" and "upstream unavailable" are distinct
// outcomes with distinct sentinels; conflating them is how reminders get lost.
package gamedata
