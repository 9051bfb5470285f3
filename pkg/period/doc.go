/*
Package period turns raw room occupancy samples into stored usage periods.

# Samples and Periods

A sample is one reading tick: a timestamp plus a 0/1 occupancy value for
every tracked room. A period (Interval) is a half-open range [Start, End)
during which one room kept the same value:

	samples (room "kitchen")
	  08:00 0   08:05 1   08:10 1   08:15 0   08:20 0

	periods
	  [08:00, 08:05) value 0
	  [08:05, 08:15) value 1
	  [08:15, 08:20) value 0

The last period of an upload ends at the last sample, not at a real
transition. It represents the state as of the end of the uploaded window.

# Reconciliation

Uploads arrive in batches (usually one file per day). When a batch
continues the previous one, the most recent stored period of a room is
extended instead of starting a new row:

	stored   [22:00, 23:00) value 1   row r1
	upload   [23:00, 23:30) value 1, [23:30, 23:59) value 0

	result   delete r1
	         insert [22:00, 23:30) value 1
	         insert [23:30, 23:59) value 0

Extension only happens when the values match and the stored end falls on
the same calendar day as the new start. Re-uploading a batch that was
already stored drops the repeated periods and reports them as duplicates.

Neither Extract nor Reconcile performs I/O. Reading history and writing
the plan back are done by pkg/upload through pkg/storage.
*/
package period
