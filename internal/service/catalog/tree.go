package catalog

import (
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// RebuildTree пересчитывает поля nested set (tree_id, lft, rght, level) за один проход.
// Соседи упорядочены по Order, затем Name, затем ID. Категория с отсутствующим родителем
// или попавшая в цикл становится корнем отдельного дерева.
func RebuildTree(categories []domain.Category) []domain.Category {
	byID := make(map[int64]domain.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	children := make(map[int64][]int64, len(categories))
	roots := make([]int64, 0)
	for _, c := range categories {
		if _, ok := byID[c.ParentID]; c.ParentID == 0 || c.ParentID == c.ID || !ok {
			roots = append(roots, c.ID)
			continue
		}
		children[c.ParentID] = append(children[c.ParentID], c.ID)
	}

	less := func(ids []int64) func(i, j int) bool {
		return func(i, j int) bool {
			a, b := byID[ids[i]], byID[ids[j]]
			if a.Order != b.Order {
				return a.Order < b.Order
			}
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.ID < b.ID
		}
	}
	sort.Slice(roots, less(roots))
	for parent, ids := range children {
		sort.Slice(ids, less(ids))
		children[parent] = ids
	}

	result := make([]domain.Category, 0, len(categories))
	visited := make(map[int64]bool, len(categories))

	var walk func(id int64, treeID, level int, counter *int)
	walk = func(id int64, treeID, level int, counter *int) {
		visited[id] = true
		node := byID[id]
		node.TreeID, node.Level = treeID, level
		node.Lft = *counter
		*counter++
		idx := len(result)
		result = append(result, node)
		for _, child := range children[id] {
			if !visited[child] {
				walk(child, treeID, level+1, counter)
			}
		}
		result[idx].Rght = *counter
		*counter++
	}

	treeID := 0
	plant := func(id int64) {
		treeID++
		counter := 1
		walk(id, treeID, 0, &counter)
	}
	for _, id := range roots {
		plant(id)
	}

	// Узлы, недостижимые от корней, образуют циклы: первый по порядку становится корнем.
	rest := make([]int64, 0)
	for _, c := range categories {
		if !visited[c.ID] {
			rest = append(rest, c.ID)
		}
	}
	sort.Slice(rest, less(rest))
	for _, id := range rest {
		if !visited[id] {
			node := byID[id]
			node.ParentID = 0
			byID[id] = node
			plant(id)
		}
	}
	return result
}

// Descendants возвращает категорию и всех её потомков по ссылкам на родителя.
func Descendants(categories []domain.Category, rootID int64) []int64 {
	children := make(map[int64][]int64, len(categories))
	for _, c := range categories {
		if c.ParentID != 0 && c.ParentID != c.ID {
			children[c.ParentID] = append(children[c.ParentID], c.ID)
		}
	}

	result := []int64{rootID}
	seen := map[int64]bool{rootID: true}
	for i := 0; i < len(result); i++ {
		for _, child := range children[result[i]] {
			if !seen[child] {
				seen[child] = true
				result = append(result, child)
			}
		}
	}
	return result
}
