/*
Package usage turns stored occupancy periods into per-room time totals.

Only occupied periods (value 1) count. A period that crosses a bucket
boundary is split: each bucket receives the minutes that fall inside it.

# Report Layout

A report is anchored on one calendar day:

	Days    the 7 days ending on the anchor day, one bucket each
	Weeks   4 Monday-based weeks, the last one containing the anchor day
	Totals  the two windows above plus all time

Calendar days follow the server's configured time zone, the same one the
upload path uses to decide whether a period may be extended.
*/
package usage
