package warehouse

import (
	// database/sql drivers for the table variant on non-Snowflake warehouses
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)
