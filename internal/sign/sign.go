// Package sign реализует детерминированную подпись параметров запроса
// по схемам, используемым платёжными провайдерами.
package sign

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Mode задаёт способ добавления секрета в подписываемую строку.
type Mode int

const (
	// ModeKeySuffix добавляет секрет хвостом &key=<secret> после
	// отсортированных параметров.
	ModeKeySuffix Mode = iota
	// ModeKeyField вставляет секрет как параметр key до сортировки.
	ModeKeyField
)

// Sign вычисляет MD5-подпись над картой параметров.
//
// Пустые значения отбрасываются, оставшиеся ключи сортируются
// лексикографически и склеиваются как key=value&key=value с исходными
// (не перекодированными) значениями. Секрет добавляется согласно mode
// (в ModeKeyField входной параметр key всегда замещается секретом),
// результат переводится в верхний регистр при upper = true.
//
// Строка обязана быть побайтово точной: любое отклонение провайдер
// отвергает молча, без тела ошибки.
func Sign(params map[string]string, secret string, upper bool, mode Mode) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		// В схеме key-field параметр key принадлежит секрету: значение
		// из params игнорируется, иначе уведомление с подложенным key
		// подписывалось бы без знания секрета.
		if mode == ModeKeyField && k == "key" {
			continue
		}
		keys = append(keys, k)
	}

	if mode == ModeKeyField {
		keys = append(keys, "key")
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if mode == ModeKeyField && k == "key" {
			b.WriteString(secret)
			continue
		}
		b.WriteString(params[k])
	}

	if mode == ModeKeySuffix {
		b.WriteString("&key=")
		b.WriteString(secret)
	}

	sum := md5.Sum([]byte(b.String()))
	digest := hex.EncodeToString(sum[:])
	if upper {
		return strings.ToUpper(digest)
	}
	return digest
}
