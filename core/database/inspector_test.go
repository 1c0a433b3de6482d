package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock sql db: %v", err)
	}

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open gorm db: %v", err)
	}

	return gormDB, mock
}

func columnRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"Field", "Type", "Null", "Key", "Default", "Extra"})
	for _, name := range names {
		rows.AddRow(name, "varchar(64)", "YES", "", nil, "")
	}
	return rows
}

func TestGetTableColumns(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery("SHOW COLUMNS FROM `sales`.`orders`").
		WillReturnRows(columnRows("Order_ID", "Status", "Updated_At"))

	columns, err := GetTableColumns(db, "sales.orders")
	assert.NoError(t, err)
	assert.Len(t, columns, 3)

	// Fields and types are normalized to lowercase
	assert.Equal(t, "order_id", columns[0].Field)
	assert.Equal(t, "varchar(64)", columns[0].Type)
}

func TestMissingColumns(t *testing.T) {
	t.Run("All Present", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery("SHOW COLUMNS FROM `orders`").
			WillReturnRows(columnRows("order_id", "status", "updated_at"))

		missing, err := MissingColumns(db, "orders", []string{"order_id", "STATUS"})
		assert.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("Missing Column", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectQuery("SHOW COLUMNS FROM `orders`").
			WillReturnRows(columnRows("order_id", "status"))

		missing, err := MissingColumns(db, "orders", []string{"order_id", "updated_at"})
		assert.NoError(t, err)
		assert.Equal(t, []string{"updated_at"}, missing)
	})
}
